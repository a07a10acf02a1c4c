package chatsdk

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client. Streams stay open for the
// whole generation, so the client should not carry a short Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSession resumes an existing conversation.
func WithSession(id string) CoordinatorOption {
	return func(co *Coordinator) { co.sessionID = id }
}

// OnSettled registers a callback run after every successful send, typically
// used to refresh the conversation list.
func OnSettled(fn func(Result)) CoordinatorOption {
	return func(co *Coordinator) { co.onSettled = fn }
}
