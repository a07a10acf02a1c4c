package usecase

import (
	"errors"
	"sync"
	"time"

	"askuni/internal/domain"
)

// ErrStreamTerminated is returned for frames written after the terminal frame.
var ErrStreamTerminated = errors.New("stream already terminated")

// FrameSink is the transport one stream writes to. Implementations encode
// frames with the event stream codec and flush after each write.
type FrameSink interface {
	Send(eventType string, payload any) error
	KeepAlive() error
}

// StreamSession owns one response stream: deltas in generation order, then
// exactly one final or error frame. A keepalive comment is written every
// interval until the session terminates or is closed.
type StreamSession struct {
	sink FrameSink

	mu         sync.Mutex
	terminated bool
	deltas     int
	err        error

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStreamSession starts the keepalive loop. A non-positive interval
// disables keepalives.
func NewStreamSession(sink FrameSink, keepAlive time.Duration) *StreamSession {
	s := &StreamSession{sink: sink, stop: make(chan struct{})}
	if keepAlive > 0 {
		s.wg.Add(1)
		go s.keepAliveLoop(keepAlive)
	}
	return s
}

func (s *StreamSession) keepAliveLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if !s.terminated && s.err == nil {
				s.err = s.sink.KeepAlive()
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Delta writes one text increment. Empty text is skipped.
func (s *StreamSession) Delta(text string) error {
	if text == "" {
		return nil
	}
	return s.write(false, domain.EventDelta, domain.DeltaPayload{T: text})
}

// Final writes the terminal answer.
func (s *StreamSession) Final(text, sessionID string) error {
	return s.write(true, domain.EventFinal, domain.FinalPayload{Text: text, SessionID: sessionID})
}

// Fail writes the terminal error frame.
func (s *StreamSession) Fail(message string) error {
	return s.write(true, domain.EventError, domain.ErrorPayload{Error: message})
}

func (s *StreamSession) write(terminal bool, eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return ErrStreamTerminated
	}
	if s.err != nil {
		return s.err
	}
	if terminal {
		s.terminated = true
	}
	if err := s.sink.Send(eventType, payload); err != nil {
		s.err = err
		return err
	}
	if eventType == domain.EventDelta {
		s.deltas++
	}
	return nil
}

// Terminated reports whether a final or error frame was written.
func (s *StreamSession) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Deltas returns the number of delta frames written.
func (s *StreamSession) Deltas() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltas
}

// Close stops the keepalive loop. Safe to call more than once.
func (s *StreamSession) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
