// Package chatsdk is the client side of the askuni message protocol.
//
// A Coordinator sends one message at a time. It opens the streaming endpoint
// and feeds the response body to a Consumer, which decodes frames and pushes
// live snapshots to a Display. When the stream cannot be established at all
// it falls back to the blocking endpoint. Both paths produce the same Result.
//
//	client := chatsdk.New("http://localhost:3000", chatsdk.WithToken(token))
//	co := chatsdk.NewCoordinator(client, chatsdk.DisplayFunc(func(s chatsdk.Snapshot) {
//	    fmt.Print("\r", s.Text)
//	}))
//	res, err := co.Send(ctx, "What room is ITCS285 in?")
package chatsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	streamPath   = "/message/stream"
	blockingPath = "/message"

	maxJSONBody = 4 << 20
)

// Attachment is extracted document text sent with a message.
type Attachment struct {
	Filename string `json:"filename,omitempty"`
	Text     string `json:"text"`
}

// PendingRequest is the body of one send.
type PendingRequest struct {
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments"`
	SessionID   *string      `json:"sessionId"`
}

// Result is the unified outcome of a send.
type Result struct {
	Text      string
	SessionID string
	// Fallback is true when the blocking endpoint produced the answer.
	Fallback bool
}

// Client talks to an askuni server.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "askuni-chatsdk",
		http:      &http.Client{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer token.
func (c *Client) Token() string { return c.token }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a JSON response into out. Non-2xx responses
// become *APIError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// openStream posts req to the streaming endpoint. Any failure returned here
// happened before a single byte of the stream was read.
func (c *Client) openStream(ctx context.Context, in PendingRequest) (io.ReadCloser, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, streamPath, in)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &EstablishError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &EstablishError{Status: resp.StatusCode, Err: newAPIError(resp.StatusCode, body)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &EstablishError{Status: resp.StatusCode, Err: errNoBody}
	}
	return resp.Body, nil
}

type blockingResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error,omitempty"`
}

// SendBlocking posts req to the non-streaming endpoint and waits for the
// complete answer.
func (c *Client) SendBlocking(ctx context.Context, in PendingRequest) (Result, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, blockingPath, in)
	if err != nil {
		return Result{}, err
	}
	var out blockingResponse
	if err := c.do(req, &out); err != nil {
		return Result{}, err
	}
	if !out.OK {
		return Result{}, &APIError{Status: http.StatusOK, Message: out.Error}
	}
	return Result{Text: out.Message, SessionID: out.SessionID, Fallback: true}, nil
}

// User is an account as returned by the server.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type authResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	return c.authenticate(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

// Register creates an account and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, email, password, name string) (User, error) {
	return c.authenticate(ctx, "/auth/register", map[string]string{"email": email, "password": password, "name": name})
}

func (c *Client) authenticate(ctx context.Context, path string, body map[string]string) (User, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return User{}, err
	}
	var out authResponse
	if err := c.do(req, &out); err != nil {
		return User{}, err
	}
	c.token = out.Token
	return out.User, nil
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return User{}, err
	}
	var out struct {
		User User `json:"user"`
	}
	err = c.do(req, &out)
	return out.User, err
}

// ChatSummary is one entry of the conversation list.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMessage is one stored message of a conversation.
type ChatMessage struct {
	Role        string       `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Chats lists the caller's conversations, newest first.
func (c *Client) Chats(ctx context.Context) ([]ChatSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Sessions []ChatSummary `json:"sessions"`
	}
	err = c.do(req, &out)
	return out.Sessions, err
}

// Messages returns the messages of one conversation.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chats/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []ChatMessage `json:"messages"`
	}
	err = c.do(req, &out)
	return out.Messages, err
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/chats/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Upload sends a document for text extraction and returns it as an
// attachment ready to be queued on a Coordinator.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (Attachment, error) {
	var out struct {
		Attachment Attachment `json:"attachment"`
	}
	if err := c.multipart(ctx, "/upload", "file", filename, r, &out); err != nil {
		return Attachment{}, err
	}
	return out.Attachment, nil
}

// Transcribe sends recorded audio and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, filename string, r io.Reader) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.multipart(ctx, "/stt", "audio", filename, r, &out)
	return out.Text, err
}

func (c *Client) multipart(ctx context.Context, path, field, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	err = c.do(req, &out)
	return out, err
}
