package uxerror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"askuni/pkg/chatsdk"
)

func TestHumanize(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here.pdf")

	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"unauthorized", &chatsdk.APIError{Status: 401, Message: "Unauthorized"}, "Not Signed In"},
		{"wrapped unauthorized", fmt.Errorf("list chats: %w", &chatsdk.APIError{Status: 401}), "Not Signed In"},
		{"rate limited", &chatsdk.APIError{Status: 429}, "Rate Limited"},
		{"offline", &chatsdk.APIError{Status: 503, Message: "Assistant offline"}, "Assistant Offline"},
		{"unsupported", &chatsdk.APIError{Status: 415}, "Unsupported File"},
		{"conflict", &chatsdk.APIError{Status: 409}, "Account Exists"},
		{"bad request", &chatsdk.APIError{Status: 400, Message: "Empty message"}, "Request Rejected"},
		{"abort", &chatsdk.AbortError{Reason: "connection reset", Partial: "The lib"}, "Response Interrupted"},
		{"establish", &chatsdk.EstablishError{Status: 502, Err: errors.New("bad gateway")}, "Streaming Unavailable"},
		{"missing file", statErr, "File Not Found"},
		{"refused", errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"), "Connection Failed"},
		{"deadline", context.DeadlineExceeded, "Request Timed Out"},
		{"other", errors.New("something odd"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Humanize(tt.err)
			if fe.Title != tt.title {
				t.Errorf("Title = %q, want %q", fe.Title, tt.title)
			}
			if fe.Raw != tt.err.Error() {
				t.Errorf("Raw = %q, want %q", fe.Raw, tt.err.Error())
			}
		})
	}
}

func TestHumanizeNil(t *testing.T) {
	if fe := Humanize(nil); fe.Title != "Unknown Error" {
		t.Errorf("Title = %q", fe.Title)
	}
}

func TestHumanizeUsesServerMessage(t *testing.T) {
	fe := Humanize(&chatsdk.APIError{Status: 503, Message: "Assistant offline: knowledge base missing"})
	if !strings.Contains(fe.Message, "knowledge base missing") {
		t.Errorf("Message = %q", fe.Message)
	}
	fe = Humanize(&chatsdk.AbortError{Reason: "Quota exceeded"})
	if !strings.Contains(fe.Message, "Quota exceeded") {
		t.Errorf("Message = %q", fe.Message)
	}
}

func TestRender(t *testing.T) {
	fe := FriendlyError{Title: "T", Message: "M", Hints: []string{"h1", "h2"}}
	out := fe.Render()
	for _, want := range []string{"T", "M", "Suggestions:", "h1", "h2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}
