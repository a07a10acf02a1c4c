package chatsdk

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"askuni/pkg/eventstream"
)

// State is the lifecycle position of a Consumer.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateFinalized || s == StateAborted }

// Snapshot is what a Display should show right now.
type Snapshot struct {
	State     State
	Text      string
	SessionID string
}

// Display receives every state change of a Consumer, in order.
type Display interface {
	Render(Snapshot)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Snapshot)

func (f DisplayFunc) Render(s Snapshot) { f(s) }

const readChunk = 4096

// Consumer turns one response body into display updates.
//
// Transitions: Idle to Streaming on the first byte; Streaming to Finalized on
// a final or done frame; Streaming to Aborted on an error frame, a read error
// or a close before any terminal frame. A cancelled Consumer stops reading and
// emits nothing further.
type Consumer struct {
	display Display

	mu        sync.Mutex
	state     State
	buf       strings.Builder
	text      string
	sessionID string
	bytesRead int64
	frames    int
	cancelled bool
}

// NewConsumer creates an idle Consumer. display may be nil.
func NewConsumer(display Display) *Consumer {
	if display == nil {
		display = DisplayFunc(func(Snapshot) {})
	}
	return &Consumer{display: display}
}

// State returns the current state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Accumulated returns the concatenation of every delta received so far.
func (c *Consumer) Accumulated() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// BytesRead returns how many body bytes were consumed.
func (c *Consumer) BytesRead() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesRead
}

// FramesProcessed returns how many decoded frames were handled.
func (c *Consumer) FramesProcessed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Consume reads body until a terminal frame, a failure or cancellation of
// ctx. Cancellation closes body so a blocked read returns immediately.
// On Finalized it returns the authoritative text and conversation id. On
// Aborted it returns the annotated partial text and an *AbortError. A body
// that ends before its first byte yields an *EstablishError and leaves the
// consumer Idle.
func (c *Consumer) Consume(ctx context.Context, body io.ReadCloser) (Result, error) {
	defer body.Close()
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cancelled = true
		c.mu.Unlock()
		body.Close()
	})
	defer stop()

	var dec eventstream.Decoder
	chunk := make([]byte, readChunk)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if c.begin(n) {
				return Result{}, context.Cause(ctx)
			}
			for _, f := range dec.Feed(chunk[:n]) {
				if done, res, ferr := c.handle(ctx, f); done {
					return res, ferr
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return Result{}, context.Cause(ctx)
		}
		if errors.Is(err, io.EOF) && c.BytesRead() == 0 {
			// Nothing was ever read: the stream was never established.
			return Result{}, &EstablishError{Err: errNoBody}
		}
		reason := "connection closed before final frame"
		if !errors.Is(err, io.EOF) {
			reason = err.Error()
		}
		return c.abort(reason)
	}
}

// begin records n bytes read and reports whether the consumer was cancelled.
func (c *Consumer) begin(n int) (cancelled bool) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return true
	}
	c.bytesRead += int64(n)
	first := c.state == StateIdle
	if first {
		c.state = StateStreaming
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if first {
		c.display.Render(snap)
	}
	return false
}

func (c *Consumer) handle(ctx context.Context, f eventstream.Frame) (bool, Result, error) {
	if ctx.Err() != nil {
		return true, Result{}, context.Cause(ctx)
	}
	switch f.Type {
	case "delta", "message":
		token, ok := deltaToken(f)
		if !ok {
			return false, Result{}, nil
		}
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return true, Result{}, context.Cause(ctx)
		}
		c.frames++
		c.buf.WriteString(token)
		c.text = c.buf.String()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.display.Render(snap)
		return false, Result{}, nil

	case "final", "done":
		var p struct {
			Text      *string `json:"text"`
			SessionID *string `json:"sessionId"`
		}
		if f.Decode(&p) != nil {
			return false, Result{}, nil
		}
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return true, Result{}, context.Cause(ctx)
		}
		c.frames++
		c.state = StateFinalized
		c.text = c.buf.String()
		if p.Text != nil && *p.Text != "" {
			c.text = *p.Text
		}
		if p.SessionID != nil && *p.SessionID != "" {
			c.sessionID = *p.SessionID
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.display.Render(snap)
		return true, Result{Text: snap.Text, SessionID: snap.SessionID}, nil

	case "error":
		var p struct {
			Error string `json:"error"`
		}
		if f.Decode(&p) != nil {
			return false, Result{}, nil
		}
		c.mu.Lock()
		c.frames++
		c.mu.Unlock()
		if p.Error == "" {
			p.Error = "unknown error"
		}
		res, err := c.abort(p.Error)
		return true, res, err
	}
	return false, Result{}, nil
}

func (c *Consumer) abort(reason string) (Result, error) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return Result{}, context.Canceled
	}
	c.state = StateAborted
	partial := c.buf.String()
	c.text = partial + "\n\n[stream aborted: " + reason + "]"
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.display.Render(snap)
	return Result{Text: snap.Text, SessionID: snap.SessionID}, &AbortError{Reason: reason, Partial: partial}
}

func (c *Consumer) snapshotLocked() Snapshot {
	return Snapshot{State: c.state, Text: c.text, SessionID: c.sessionID}
}

// deltaToken extracts the text of a delta frame. Servers have used several
// key names; the first non-empty one wins.
func deltaToken(f eventstream.Frame) (string, bool) {
	var p map[string]any
	if f.Decode(&p) != nil {
		return "", false
	}
	for _, key := range []string{"t", "token", "value", "delta"} {
		if s, ok := p[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
