// Package uxerror turns client errors into short explanations with recovery
// hints for the chat transcript.
package uxerror

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"

	"askuni/internal/adapter/tui/theme"
	"askuni/pkg/chatsdk"
)

// FriendlyError is what the transcript shows for a failed action.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render lays out the title, the message and a bulleted list of hints.
func (fe FriendlyError) Render() string {
	lines := []string{fe.Title}
	if fe.Message != "" {
		lines = append(lines, "  "+fe.Message)
	}
	if len(fe.Hints) > 0 {
		lines = append(lines, "  Suggestions:")
		for _, h := range fe.Hints {
			lines = append(lines, "    "+theme.SymbolBullet+" "+h)
		}
	}
	return strings.Join(lines, "\n")
}

// byStatus covers server replies whose meaning is fixed by the status code.
// An empty Message means the server's own message is used.
var byStatus = map[int]FriendlyError{
	http.StatusUnauthorized: {
		Title:   "Not Signed In",
		Message: "The server rejected your session token.",
		Hints:   []string{"Run 'askuni-chat login' to sign in again", "Pass a fresh token with --token"},
	},
	http.StatusTooManyRequests: {
		Title:   "Rate Limited",
		Message: "Too many messages in a short time.",
		Hints:   []string{"Wait a minute before sending again"},
	},
	http.StatusServiceUnavailable: {
		Title: "Assistant Offline",
		Hints: []string{"Try again in a few minutes", "Ask the server operator to run 'askuni doctor'"},
	},
	http.StatusUnsupportedMediaType: {
		Title:   "Unsupported File",
		Message: "Only PDF and plain text documents can be attached.",
		Hints:   []string{"Convert the document to PDF or .txt"},
	},
	http.StatusConflict: {
		Title:   "Account Exists",
		Message: "An account with this email is already registered.",
		Hints:   []string{"Use 'askuni-chat login' instead"},
	},
}

// Humanize explains err. Server replies are matched first, then stream
// failures, local file errors and finally network trouble.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	fe := classify(err)
	fe.Raw = err.Error()
	return fe
}

func classify(err error) FriendlyError {
	var (
		apiErr    *chatsdk.APIError
		abort     *chatsdk.AbortError
		establish *chatsdk.EstablishError
		opErr     *net.OpError
	)
	switch {
	case errors.As(err, &apiErr):
		if fe, ok := byStatus[apiErr.Status]; ok {
			if fe.Message == "" {
				fe.Message = serverMessage(apiErr, "The assistant is not available right now.")
			}
			return fe
		}
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return FriendlyError{Title: "Request Rejected", Message: serverMessage(apiErr, "The server did not accept the request.")}
		}
	case errors.As(err, &abort):
		return FriendlyError{
			Title:   "Response Interrupted",
			Message: "The answer stopped before it was complete: " + abort.Reason,
			Hints:   []string{"Ask again; the partial answer may already be in your history"},
		}
	case errors.As(err, &establish):
		return FriendlyError{
			Title:   "Streaming Unavailable",
			Message: "The server could not open a response stream.",
			Hints:   []string{"Check that a proxy is not buffering the connection", "Try again"},
		}
	case errors.Is(err, fs.ErrNotExist):
		return FriendlyError{
			Title:   "File Not Found",
			Message: "The file to attach does not exist.",
			Hints:   []string{"Check the path passed to /attach"},
		}
	}

	text := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &opErr) || containsAny(text, "connection refused", "no such host", "dial tcp"):
		return FriendlyError{
			Title:   "Connection Failed",
			Message: "Could not reach the AskUni server.",
			Hints:   []string{"Check the --server address or ASKUNI_SERVER", "Check your internet connection"},
		}
	case errors.Is(err, context.DeadlineExceeded) || containsAny(text, "timeout", "deadline exceeded"):
		return FriendlyError{
			Title:   "Request Timed Out",
			Message: "The request took too long to complete.",
			Hints:   []string{"Try a shorter question", "Check your network connection"},
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --debug for more details"},
	}
}

func serverMessage(e *chatsdk.APIError, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
