package chatsdk

import (
	"context"
	"errors"
	"sync"
)

// Coordinator presents one send operation over the streaming and blocking
// endpoints. It owns the conversation id and the queued attachments for one
// chat window. Sends are serialized.
type Coordinator struct {
	client    *Client
	display   Display
	onSettled func(Result)

	sendMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	pending   []Attachment
	consumer  *Consumer
}

// NewCoordinator creates a Coordinator that renders into display.
func NewCoordinator(client *Client, display Display, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{client: client, display: display}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// SessionID returns the active conversation id, empty for a new chat.
func (co *Coordinator) SessionID() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.sessionID
}

// Attach queues an attachment for the next send.
func (co *Coordinator) Attach(a Attachment) {
	co.mu.Lock()
	co.pending = append(co.pending, a)
	co.mu.Unlock()
}

// Pending returns the queued attachments.
func (co *Coordinator) Pending() []Attachment {
	co.mu.Lock()
	defer co.mu.Unlock()
	return append([]Attachment(nil), co.pending...)
}

// NewChat forgets the active conversation and queued attachments.
func (co *Coordinator) NewChat() {
	co.mu.Lock()
	co.sessionID = ""
	co.pending = nil
	co.mu.Unlock()
}

// Resume switches to an existing conversation.
func (co *Coordinator) Resume(sessionID string) {
	co.mu.Lock()
	co.sessionID = sessionID
	co.mu.Unlock()
}

// LastConsumer returns the consumer of the most recent streaming attempt,
// or nil if the last send never opened a stream.
func (co *Coordinator) LastConsumer() *Consumer {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.consumer
}

// Send delivers message using the streaming endpoint, or the blocking
// endpoint when the stream cannot be established. A stream that fails after
// it started is never resent, because the server may already have generated
// and stored part of the answer.
func (co *Coordinator) Send(ctx context.Context, message string) (Result, error) {
	co.sendMu.Lock()
	defer co.sendMu.Unlock()

	req := co.request(message)

	co.mu.Lock()
	co.consumer = nil
	co.mu.Unlock()

	body, err := co.client.openStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		co.client.logger.Warn("stream unavailable, falling back to blocking request", "error", err)
		return co.fallback(ctx, req)
	}

	consumer := NewConsumer(co.display)
	co.mu.Lock()
	co.consumer = consumer
	co.mu.Unlock()

	res, err := consumer.Consume(ctx, body)
	if err != nil {
		var establish *EstablishError
		if errors.As(err, &establish) {
			co.client.logger.Warn("stream closed before any data, falling back to blocking request")
			return co.fallback(ctx, req)
		}
		return res, err
	}
	co.settle(res)
	return res, nil
}

func (co *Coordinator) fallback(ctx context.Context, req PendingRequest) (Result, error) {
	res, err := co.client.SendBlocking(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if co.display != nil {
		co.display.Render(Snapshot{State: StateFinalized, Text: res.Text, SessionID: res.SessionID})
	}
	co.settle(res)
	return res, nil
}

func (co *Coordinator) request(message string) PendingRequest {
	co.mu.Lock()
	defer co.mu.Unlock()
	req := PendingRequest{
		Message:     message,
		Attachments: append([]Attachment{}, co.pending...),
	}
	if co.sessionID != "" {
		id := co.sessionID
		req.SessionID = &id
	}
	return req
}

// settle applies a successful result identically for both paths.
func (co *Coordinator) settle(res Result) {
	co.mu.Lock()
	if res.SessionID != "" {
		co.sessionID = res.SessionID
	}
	co.pending = nil
	co.mu.Unlock()
	if co.onSettled != nil {
		co.onSettled(res)
	}
}
