package httpapi

import (
	"io"
	"net/http"
	"sync"

	"askuni/internal/domain"
	"askuni/pkg/eventstream"
)

// setSSEHeaders prepares w for an event stream. Call before the first write.
func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// sseWriter is the usecase.FrameSink for one HTTP response. Every frame is
// flushed as soon as it is written. Safe for concurrent use; the keepalive
// loop writes from its own goroutine.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	mu      sync.Mutex
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, domain.ErrNoStreaming
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) Send(eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := eventstream.Write(s.w, eventType, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, eventstream.KeepAlive); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
