package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"askuni/internal/domain"
	"askuni/internal/infra/tracer"
)

const persistTimeout = 10 * time.Second

// Offline notices streamed when no assistant can serve the request.
const (
	offlineDelta   = "ℹ️ Assistant is offline (missing API keys)."
	offlineFinal   = "Assistant offline."
	noKBDelta      = "ℹ️ Knowledge base not attached (ASKUNI_VECTOR_STORE_IDS missing)."
	noKBFinal      = "Knowledge base missing."
	offlineDetail  = "missing OPENAI_API_KEY or ASKUNI_ASSISTANT_ID"
	noKBDetail     = "ASKUNI_VECTOR_STORE_IDS missing"
	timeoutMessage = "The assistant did not respond in time. Please try again."
	breakerMessage = "The assistant is temporarily unavailable. Please try again shortly."
)

// ChatDeps holds the collaborators of a ChatService.
type ChatDeps struct {
	// Assistant generates replies. Nil means offline.
	Assistant domain.Assistant
	// Citations backs the grounding check; nil skips it.
	Citations domain.CitationSource
	// History persists turns of authenticated users; nil disables it.
	History  domain.HistoryStore
	Observer ChatObserver
	Logger   *slog.Logger
}

// ChatOptions tunes a ChatService.
type ChatOptions struct {
	KeepAlive        time.Duration
	RequireCitations bool
	University       string
	Replace          []string
	// Unavailable, when set, puts the service in offline mode. It must wrap
	// domain.ErrAssistantOffline or domain.ErrKnowledgeMissing.
	Unavailable error
}

// ChatService answers chat turns over the streaming and blocking paths.
type ChatService struct {
	assistant   domain.Assistant
	history     domain.HistoryStore
	observer    ChatObserver
	logger      *slog.Logger
	locker      *ConversationLocker
	sanitizer   *IdentitySanitizer
	grounder    *Grounder
	keepAlive   time.Duration
	unavailable error
	newID       func() string
	now         func() time.Time
}

// NewChatService creates a ChatService.
func NewChatService(deps ChatDeps, opts ChatOptions) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	unavailable := opts.Unavailable
	if unavailable == nil && deps.Assistant == nil {
		unavailable = domain.ErrAssistantOffline
	}
	sanitizer := NewIdentitySanitizer(opts.University, opts.Replace)
	return &ChatService{
		assistant:   deps.Assistant,
		history:     deps.History,
		observer:    observer,
		logger:      logger,
		locker:      NewConversationLocker(),
		sanitizer:   sanitizer,
		grounder:    NewGrounder(deps.Citations, opts.RequireCitations, sanitizer, logger),
		keepAlive:   opts.KeepAlive,
		unavailable: unavailable,
		newID:       NewSessionID,
		now:         time.Now,
	}
}

// Available returns nil when an assistant can serve requests, otherwise the
// offline reason.
func (s *ChatService) Available() error { return s.unavailable }

// turn carries the per-request state shared by both paths.
type turn struct {
	id        domain.Identity
	req       domain.ChatRequest
	sessionID string
	threadID  string
	newThread bool
	persist   bool
}

// Stream answers req on sink. It returns domain.ErrEmptyMessage before
// writing anything for an empty request; otherwise the stream always ends
// with one final or error frame unless the sink itself fails, in which case
// the sink error is returned.
func (s *ChatService) Stream(ctx context.Context, id domain.Identity, req domain.ChatRequest, sink FrameSink) error {
	if req.Empty() {
		return domain.NewDomainError("Chat.Stream", domain.ErrEmptyMessage, "")
	}

	start := time.Now()
	s.observer.StreamStarted()
	session := NewStreamSession(sink, s.keepAlive)
	defer session.Close()

	if s.unavailable != nil {
		err := s.streamOffline(session, req.SessionID)
		s.observer.StreamEnded(OutcomeOffline, time.Since(start))
		return err
	}

	ctx, span := tracer.StartSpan(ctx, "chat.stream")
	defer span.End()

	outcome, err := s.stream(ctx, session, id, req)
	if err != nil && outcome == OutcomeError {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	span.SetAttributes(tracer.Attr("chat.deltas", session.Deltas()), tracer.Attr("chat.authenticated", id.Authenticated()))
	s.observer.StreamEnded(outcome, time.Since(start))
	if outcome == OutcomeDisconnected {
		return err
	}
	return nil
}

func (s *ChatService) stream(ctx context.Context, session *StreamSession, id domain.Identity, req domain.ChatRequest) (string, error) {
	fail := func(err error) (string, error) {
		s.logger.Error("stream failed", "session", req.SessionID, "error", err)
		if werr := session.Fail(FailureText(err)); werr != nil {
			return OutcomeDisconnected, werr
		}
		return OutcomeError, err
	}

	t, unlock, err := s.begin(ctx, "Chat.Stream", id, req)
	if err != nil {
		return fail(err)
	}
	defer unlock()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deltas, err := s.assistant.StreamGenerate(genCtx, t.threadID, BuildPrompt(req))
	if err != nil {
		return fail(err)
	}

	var full strings.Builder
	done := false
	for d := range deltas {
		if d.Err != nil {
			return fail(d.Err)
		}
		if d.Done {
			done = true
			break
		}
		piece := s.sanitizer.Sanitize(d.Text)
		full.WriteString(piece)
		if err := session.Delta(piece); err != nil {
			s.logger.Info("client went away mid-stream", "session", t.sessionID, "error", err)
			return OutcomeDisconnected, err
		}
	}
	if err := ctx.Err(); err != nil {
		return OutcomeDisconnected, err
	}
	if !done {
		return fail(domain.NewDomainError("Chat.Stream", domain.ErrProviderError, "generation ended without completion"))
	}

	text := s.finalize(ctx, t, full.String())
	if err := session.Final(text, t.sessionID); err != nil {
		s.logger.Info("client went away before final frame", "session", t.sessionID, "error", err)
		s.save(ctx, t, text)
		return OutcomeDisconnected, err
	}
	s.save(ctx, t, text)
	return OutcomeFinal, nil
}

func (s *ChatService) streamOffline(session *StreamSession, sessionID string) error {
	delta, final := offlineDelta, offlineFinal
	if errors.Is(s.unavailable, domain.ErrKnowledgeMissing) {
		delta, final = noKBDelta, noKBFinal
	}
	if err := session.Delta(delta); err != nil {
		return err
	}
	return session.Final(final, sessionID)
}

// Ask answers req on the blocking path.
func (s *ChatService) Ask(ctx context.Context, id domain.Identity, req domain.ChatRequest) (domain.ChatResult, error) {
	const op = "Chat.Ask"
	if req.Empty() {
		return domain.ChatResult{}, domain.NewDomainError(op, domain.ErrEmptyMessage, "")
	}
	if s.unavailable != nil {
		detail := offlineDetail
		if errors.Is(s.unavailable, domain.ErrKnowledgeMissing) {
			detail = noKBDetail
		}
		return domain.ChatResult{}, domain.NewDomainError(op, s.unavailable, detail)
	}

	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "chat.ask")
	defer span.End()

	res, err := s.ask(ctx, op, id, req)
	if err != nil {
		tracer.RecordError(span, err)
		s.observer.BlockingServed(OutcomeError, time.Since(start))
		return domain.ChatResult{}, err
	}
	tracer.SetOK(span)
	s.observer.BlockingServed(OutcomeFinal, time.Since(start))
	return res, nil
}

func (s *ChatService) ask(ctx context.Context, op string, id domain.Identity, req domain.ChatRequest) (domain.ChatResult, error) {
	t, unlock, err := s.begin(ctx, op, id, req)
	if err != nil {
		return domain.ChatResult{}, err
	}
	defer unlock()

	generated, err := s.assistant.BlockingGenerate(ctx, t.threadID, BuildPrompt(req))
	if err != nil {
		return domain.ChatResult{}, domain.WrapOp(op, err)
	}

	text := s.finalize(ctx, t, generated)
	s.save(ctx, t, text)
	return domain.ChatResult{Text: text, SessionID: t.sessionID}, nil
}

// begin resolves the conversation id, takes its lock and resolves the
// assistant thread.
func (s *ChatService) begin(ctx context.Context, op string, id domain.Identity, req domain.ChatRequest) (*turn, func(), error) {
	t := &turn{
		id:        id,
		req:       req,
		sessionID: req.SessionID,
		persist:   id.Authenticated() && s.history != nil,
	}
	if t.sessionID == "" {
		t.sessionID = s.newID()
	}

	unlock, err := s.locker.Lock(ctx, t.sessionID)
	if err != nil {
		return nil, nil, domain.WrapOp(op, err)
	}

	if t.persist {
		s.resolveStoredThread(ctx, t)
	}
	if t.threadID == "" {
		threadID, err := s.assistant.NewThread(ctx)
		if err != nil {
			unlock()
			return nil, nil, domain.WrapOp(op, err)
		}
		t.threadID = threadID
		t.newThread = true
	}
	return t, unlock, nil
}

// resolveStoredThread reuses the thread of a conversation owned by the
// caller. A conversation owned by someone else is never continued: the turn
// gets a fresh id instead.
func (s *ChatService) resolveStoredThread(ctx context.Context, t *turn) {
	sess, err := s.history.Session(ctx, t.sessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
	case err != nil:
		s.logger.Warn("session lookup failed, using a new thread", "session", t.sessionID, "error", err)
	case sess.UserID != t.id.UserID:
		s.logger.Warn("session belongs to another user, starting a new one", "session", t.sessionID)
		t.sessionID = s.newID()
	default:
		t.threadID = sess.ThreadID
	}
}

func (s *ChatService) finalize(ctx context.Context, t *turn, generated string) string {
	text, reason := s.grounder.Finalize(ctx, t.threadID, generated)
	if reason != "" {
		s.observer.AnswerSubstituted(reason)
	}
	return text
}

// save persists the turn for authenticated callers. Failures are logged and
// never change the answer.
func (s *ChatService) save(ctx context.Context, t *turn, answer string) {
	if !t.persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.persist(ctx, t, answer); err != nil {
		s.logger.Error("failed to persist turn", "session", t.sessionID, "error", err)
	}
}

func (s *ChatService) persist(ctx context.Context, t *turn, answer string) error {
	now := s.now()
	if err := s.history.UpsertSession(ctx, domain.Session{
		ID:        t.sessionID,
		UserID:    t.id.UserID,
		Title:     SessionTitle(t.req.Message),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return domain.WrapOp("upsert session", err)
	}
	if t.newThread {
		if err := s.history.SetThreadID(ctx, t.sessionID, t.threadID); err != nil {
			return domain.WrapOp("set thread", err)
		}
	}

	attachments := t.req.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	if err := s.history.AppendMessage(ctx, domain.StoredMessage{
		SessionID:   t.sessionID,
		Role:        domain.RoleUser,
		Text:        t.req.Message,
		Attachments: attachments,
		CreatedAt:   now,
	}); err != nil {
		return domain.WrapOp("append user message", err)
	}
	if err := s.history.AppendMessage(ctx, domain.StoredMessage{
		SessionID:   t.sessionID,
		Role:        domain.RoleBot,
		Text:        answer,
		Attachments: []domain.Attachment{},
		CreatedAt:   s.now(),
	}); err != nil {
		return domain.WrapOp("append bot message", err)
	}
	return nil
}

// FailureText is the client-facing message for a failed turn, as carried by
// an error frame or the blocking error detail.
func FailureText(err error) string {
	var rt *domain.RunTimeoutError
	var de *domain.DomainError
	switch {
	case errors.As(err, &rt):
		return timeoutMessage
	case errors.Is(err, domain.ErrCircuitOpen):
		return breakerMessage
	case errors.As(err, &de) && de.Detail != "":
		return de.Detail
	}
	return err.Error()
}
