package chatsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrStreamAborted is wrapped by every error that ends a stream early.
	ErrStreamAborted = errors.New("stream aborted")

	errNoBody = errors.New("response has no body")
)

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("askuni: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("askuni: %d: %s", e.Status, e.Message)
}

// Unauthorized reports whether the server rejected the credential.
func (e *APIError) Unauthorized() bool { return e.Status == http.StatusUnauthorized }

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var payload struct {
		Error  string `json:"error"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
		e.Code = payload.Code
		if payload.Detail != "" {
			e.Message += ": " + payload.Detail
		}
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}

// EstablishError means the streaming endpoint could not be used at all.
// Nothing was read from the stream, so the request is safe to resend.
type EstablishError struct {
	Status int
	Err    error
}

func (e *EstablishError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("open stream: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("open stream: %v", e.Err)
}

func (e *EstablishError) Unwrap() error { return e.Err }

// AbortError ends a stream that was established but produced no terminal
// frame. Partial holds the text accumulated before the failure.
type AbortError struct {
	Reason  string
	Partial string
}

func (e *AbortError) Error() string { return "stream aborted: " + e.Reason }

func (e *AbortError) Is(target error) bool { return target == ErrStreamAborted }
