package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"askuni/internal/domain"
	"askuni/internal/infra/tracer"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultPollInterval    = 700 * time.Millisecond
	defaultMaxPollAttempts = 170
	recentMessagesLimit    = 5
)

// OpenAIConfig configures an OpenAI Assistants backend.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	AssistantID     string
	VectorStoreIDs  []string
	Instructions    string
	Temperature     float32
	PollInterval    time.Duration
	MaxPollAttempts int
	ConnTimeout     time.Duration
}

// OpenAIAssistant runs prompts against a hosted OpenAI assistant whose
// threads carry a file_search vector store.
type OpenAIAssistant struct {
	client     *openai.Client
	httpClient *http.Client
	cfg        OpenAIConfig
	baseURL    string
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var (
	_ domain.Assistant      = (*OpenAIAssistant)(nil)
	_ domain.CitationSource = (*OpenAIAssistant)(nil)
)

// NewOpenAIAssistant creates the backend. The go-openai client handles the
// JSON endpoints; run streaming goes over the same HTTP client directly.
func NewOpenAIAssistant(cfg OpenAIConfig, logger *slog.Logger) *OpenAIAssistant {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}

	httpClient := newHTTPClient(cfg.ConnTimeout)
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = httpClient

	return &OpenAIAssistant{
		client:     openai.NewClientWithConfig(oc),
		httpClient: httpClient,
		cfg:        cfg,
		baseURL:    baseURL,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Name implements domain.Assistant.
func (a *OpenAIAssistant) Name() string { return "openai" }

// NewThread creates a thread with the knowledge base attached.
func (a *OpenAIAssistant) NewThread(ctx context.Context) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "assistant.new_thread", trace.WithAttributes(tracer.Attr("assistant.provider", a.Name())))
	defer span.End()

	req := openai.ThreadRequest{}
	if len(a.cfg.VectorStoreIDs) > 0 {
		req.ToolResources = &openai.ToolResourcesRequest{
			FileSearch: &openai.FileSearchToolResourcesRequest{VectorStoreIDs: a.cfg.VectorStoreIDs},
		}
	}
	thread, err := a.client.CreateThread(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", mapOpenAIError("OpenAI.NewThread", err)
	}
	tracer.SetOK(span)
	return thread.ID, nil
}

func (a *OpenAIAssistant) runRequest() openai.RunRequest {
	temp := a.cfg.Temperature
	return openai.RunRequest{
		AssistantID:            a.cfg.AssistantID,
		AdditionalInstructions: a.cfg.Instructions,
		Tools:                  []openai.Tool{{Type: openai.ToolType(openai.AssistantToolTypeFileSearch)}},
		Temperature:            &temp,
	}
}

func (a *OpenAIAssistant) addUserMessage(ctx context.Context, threadID, prompt string) error {
	_, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return mapOpenAIError("OpenAI.CreateMessage", err)
}

// BlockingGenerate appends prompt, starts a run and polls it to completion
// with a fixed interval. A run still pending after MaxPollAttempts yields a
// *domain.RunTimeoutError.
func (a *OpenAIAssistant) BlockingGenerate(ctx context.Context, threadID, prompt string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "assistant.blocking",
		trace.WithAttributes(
			tracer.Attr("assistant.provider", a.Name()),
			tracer.Attr("assistant.thread", threadID),
		),
	)
	defer span.End()

	if err := a.addUserMessage(ctx, threadID, prompt); err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	run, err := a.client.CreateRun(ctx, threadID, a.runRequest())
	if err != nil {
		err = mapOpenAIError("OpenAI.CreateRun", err)
		tracer.RecordError(span, err)
		return "", err
	}

	if err := a.waitForRun(ctx, threadID, run); err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	msg, err := a.latestAssistantMessage(ctx, threadID)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return messageText(msg), nil
}

func (a *OpenAIAssistant) waitForRun(ctx context.Context, threadID string, run openai.Run) error {
	for attempt := 1; ; attempt++ {
		switch run.Status {
		case openai.RunStatusCompleted:
			a.logger.Debug("assistant run completed", "run", run.ID, "attempts", attempt)
			return nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired,
			openai.RunStatusIncomplete, openai.RunStatusRequiresAction:
			return runFailure(run)
		}
		if attempt >= a.cfg.MaxPollAttempts {
			return &domain.RunTimeoutError{RunID: run.ID, Attempts: attempt}
		}
		if err := a.sleep(ctx, a.cfg.PollInterval); err != nil {
			return err
		}

		var err error
		run, err = a.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return mapOpenAIError("OpenAI.RetrieveRun", err)
		}
	}
}

func runFailure(run openai.Run) error {
	detail := fmt.Sprintf("Assistant run %s", run.Status)
	if run.LastError != nil && run.LastError.Message != "" {
		detail += ": " + run.LastError.Message
	}
	return domain.NewDomainError("OpenAI.Run", domain.ErrRunFailed, detail)
}

// LatestCitations implements domain.CitationSource by reading the
// file_citation annotations of the newest assistant message.
func (a *OpenAIAssistant) LatestCitations(ctx context.Context, threadID string) ([]domain.Citation, error) {
	msg, err := a.latestAssistantMessage(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return fileCitations(msg), nil
}

func (a *OpenAIAssistant) latestAssistantMessage(ctx context.Context, threadID string) (*openai.Message, error) {
	limit := recentMessagesLimit
	order := "desc"
	list, err := a.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, mapOpenAIError("OpenAI.ListMessage", err)
	}
	for i := range list.Messages {
		if list.Messages[i].Role == openai.ChatMessageRoleAssistant {
			return &list.Messages[i], nil
		}
	}
	return nil, domain.NewDomainError("OpenAI.ListMessage", domain.ErrNotFound, "no assistant reply on thread")
}

func messageText(msg *openai.Message) string {
	var parts []string
	for _, c := range msg.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// annotation is the subset of a message annotation we read. go-openai
// leaves annotations untyped.
type annotation struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	FileCitation *struct {
		FileID string `json:"file_id"`
		Quote  string `json:"quote"`
	} `json:"file_citation"`
}

func fileCitations(msg *openai.Message) []domain.Citation {
	var out []domain.Citation
	for _, c := range msg.Content {
		if c.Type != "text" || c.Text == nil {
			continue
		}
		for _, raw := range c.Text.Annotations {
			data, err := json.Marshal(raw)
			if err != nil {
				continue
			}
			var ann annotation
			if json.Unmarshal(data, &ann) != nil || ann.Type != "file_citation" {
				continue
			}
			cite := domain.Citation{Quote: ann.Text}
			if ann.FileCitation != nil {
				cite.FileID = ann.FileCitation.FileID
				if ann.FileCitation.Quote != "" {
					cite.Quote = ann.FileCitation.Quote
				}
			}
			out = append(out, cite)
		}
	}
	return out
}

// apiMessage extracts error.message from an OpenAI error body, falling back
// to the trimmed body.
func apiMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
