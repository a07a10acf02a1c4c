package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"askuni/internal/domain"
)

// --- Mocks ---

type mockAssistant struct {
	mu        sync.Mutex
	deltas    []string
	streamErr error // returned by StreamGenerate itself
	midErr    error // delivered after the deltas instead of Done
	text      string
	blockErr  error
	threadN   int
	prompts   []string
	threads   []string
}

func (m *mockAssistant) Name() string { return "mock" }

func (m *mockAssistant) NewThread(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadN++
	return fmt.Sprintf("thread_%d", m.threadN), nil
}

func (m *mockAssistant) record(threadID, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, threadID)
	m.prompts = append(m.prompts, prompt)
}

func (m *mockAssistant) StreamGenerate(ctx context.Context, threadID, prompt string) (<-chan domain.GenerationDelta, error) {
	m.record(threadID, prompt)
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan domain.GenerationDelta)
	go func() {
		defer close(ch)
		for _, d := range m.deltas {
			select {
			case ch <- domain.GenerationDelta{Text: d}:
			case <-ctx.Done():
				return
			}
		}
		last := domain.GenerationDelta{Done: true}
		if m.midErr != nil {
			last = domain.GenerationDelta{Err: m.midErr}
		}
		select {
		case ch <- last:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (m *mockAssistant) BlockingGenerate(_ context.Context, threadID, prompt string) (string, error) {
	m.record(threadID, prompt)
	return m.text, m.blockErr
}

type mockCitations struct {
	cites []domain.Citation
	err   error
}

func (m *mockCitations) LatestCitations(context.Context, string) ([]domain.Citation, error) {
	return m.cites, m.err
}

type mockHistory struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	messages  []domain.StoredMessage
	appendErr error
}

func newMockHistory() *mockHistory {
	return &mockHistory{sessions: make(map[string]domain.Session)}
}

func (m *mockHistory) Session(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (m *mockHistory) UpsertSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[s.ID]; ok {
		s.ThreadID = old.ThreadID
		s.CreatedAt = old.CreatedAt
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *mockHistory) SetThreadID(_ context.Context, sessionID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.ThreadID = threadID
	m.sessions[sessionID] = s
	return nil
}

func (m *mockHistory) AppendMessage(_ context.Context, msg domain.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockHistory) ListSessions(_ context.Context, userID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *mockHistory) Messages(_ context.Context, sessionID, _ string) ([]domain.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StoredMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockHistory) DeleteSession(_ context.Context, sessionID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *mockHistory) Ping(context.Context) error { return nil }

// frame is one recorded sink write.
type frame struct {
	Type string
	Data json.RawMessage
}

type recordingSink struct {
	mu         sync.Mutex
	frames     []frame
	keepAlives int
	failAfter  int // fail Send once this many frames were written; 0 disables
}

func (r *recordingSink) Send(eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.frames) >= r.failAfter {
		return fmt.Errorf("write: broken pipe")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, frame{Type: eventType, Data: data})
	return nil
}

func (r *recordingSink) KeepAlive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keepAlives++
	return nil
}

func (r *recordingSink) snapshot() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame(nil), r.frames...)
}

func (r *recordingSink) types() []string {
	var out []string
	for _, f := range r.snapshot() {
		out = append(out, f.Type)
	}
	return out
}

type countingObserver struct {
	mu          sync.Mutex
	started     int
	ended       []string
	blocking    []string
	substituted []string
}

func (o *countingObserver) StreamStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) StreamEnded(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, outcome)
}

func (o *countingObserver) BlockingServed(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocking = append(o.blocking, outcome)
}

func (o *countingObserver) AnswerSubstituted(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.substituted = append(o.substituted, reason)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
