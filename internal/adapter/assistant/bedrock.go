package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"askuni/internal/domain"
	"askuni/internal/infra/tracer"
)

const (
	defaultBedrockRegion = "us-east-1"
	bedrockMaxTokens     = 2048
	// maxThreadMessages bounds the history replayed on every Bedrock call.
	maxThreadMessages = 20
	maxBedrockThreads = 1000
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockConfig configures the Bedrock backend.
type BedrockConfig struct {
	Model        string
	Region       string
	Instructions string
	Temperature  float32
}

// BedrockAssistant implements domain.Assistant via the Bedrock Converse API.
// Bedrock has no server-side threads, so conversation history is kept in
// memory per thread id. It has no knowledge base and reports no citations.
type BedrockAssistant struct {
	cfg    BedrockConfig
	client bedrockConverseAPI
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string][]types.Message
	order   []string
}

// NewBedrockAssistant creates a Bedrock backend using the default AWS
// credential chain.
func NewBedrockAssistant(ctx context.Context, cfg BedrockConfig, logger *slog.Logger) (*BedrockAssistant, error) {
	if cfg.Region == "" {
		cfg.Region = defaultBedrockRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockAssistantWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockAssistantWithClient(cfg BedrockConfig, client bedrockConverseAPI, logger *slog.Logger) *BedrockAssistant {
	return &BedrockAssistant{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		threads: make(map[string][]types.Message),
	}
}

// Name implements domain.Assistant.
func (b *BedrockAssistant) Name() string { return "bedrock" }

// NewThread allocates an in-memory conversation.
func (b *BedrockAssistant) NewThread(context.Context) (string, error) {
	id := "bt_" + ulid.Make().String()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads[id] = nil
	b.order = append(b.order, id)
	for len(b.order) > maxBedrockThreads {
		delete(b.threads, b.order[0])
		b.order = b.order[1:]
	}
	return id, nil
}

// history returns the thread's messages followed by the new user turn. An
// unknown thread (e.g. after a restart) starts empty.
func (b *BedrockAssistant) history(threadID, prompt string) []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := append([]types.Message(nil), b.threads[threadID]...)
	return append(msgs, textMessage(types.ConversationRoleUser, prompt))
}

func (b *BedrockAssistant) remember(threadID, prompt, reply string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.threads[threadID]; !ok {
		b.order = append(b.order, threadID)
	}
	msgs := append(b.threads[threadID],
		textMessage(types.ConversationRoleUser, prompt),
		textMessage(types.ConversationRoleAssistant, reply),
	)
	if len(msgs) > maxThreadMessages {
		msgs = msgs[len(msgs)-maxThreadMessages:]
	}
	b.threads[threadID] = msgs
}

func textMessage(role types.ConversationRole, text string) types.Message {
	return types.Message{Role: role, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}}}
}

func (b *BedrockAssistant) system() []types.SystemContentBlock {
	if b.cfg.Instructions == "" {
		return nil
	}
	return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: b.cfg.Instructions}}
}

func (b *BedrockAssistant) inference() *types.InferenceConfiguration {
	return &types.InferenceConfiguration{
		MaxTokens:   aws.Int32(bedrockMaxTokens),
		Temperature: aws.Float32(b.cfg.Temperature),
	}
}

// BlockingGenerate implements domain.Assistant.
func (b *BedrockAssistant) BlockingGenerate(ctx context.Context, threadID, prompt string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "assistant.blocking",
		trace.WithAttributes(
			tracer.Attr("assistant.provider", b.Name()),
			tracer.Attr("assistant.model", b.cfg.Model),
		),
	)
	defer span.End()

	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.cfg.Model),
		Messages:        b.history(threadID, prompt),
		System:          b.system(),
		InferenceConfig: b.inference(),
	})
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return "", err
	}

	var sb strings.Builder
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if t, ok := block.(*types.ContentBlockMemberText); ok {
				sb.WriteString(t.Value)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	b.remember(threadID, prompt, text)
	tracer.SetOK(span)
	return text, nil
}

// StreamGenerate implements domain.Assistant.
func (b *BedrockAssistant) StreamGenerate(ctx context.Context, threadID, prompt string) (<-chan domain.GenerationDelta, error) {
	out, err := b.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(b.cfg.Model),
		Messages:        b.history(threadID, prompt),
		System:          b.system(),
		InferenceConfig: b.inference(),
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.GenerationDelta, 16)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		text, ok := pumpBedrockEvents(ctx, stream.Events(), stream.Err, ch)
		if ok {
			b.remember(threadID, prompt, text)
		}
	}()
	return ch, nil
}

// pumpBedrockEvents forwards text deltas and ends with Done once the message
// stops, or with Err when the stream fails first. It returns the full text
// and whether the generation completed.
func pumpBedrockEvents(ctx context.Context, events <-chan types.ConverseStreamOutput, streamErr func() error, ch chan<- domain.GenerationDelta) (string, bool) {
	send := func(d domain.GenerationDelta) bool {
		select {
		case ch <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var sb strings.Builder
	stopped := false
	for evt := range events {
		switch e := evt.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && d.Value != "" {
				sb.WriteString(d.Value)
				if !send(domain.GenerationDelta{Text: d.Value}) {
					return "", false
				}
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			stopped = true
		}
	}

	if err := streamErr(); err != nil {
		send(domain.GenerationDelta{Err: mapBedrockError(err)})
		return "", false
	}
	if !stopped {
		send(domain.GenerationDelta{Err: domain.NewDomainError("Bedrock.Stream", domain.ErrProviderError, "stream ended before the message stopped")})
		return "", false
	}
	if !send(domain.GenerationDelta{Done: true}) {
		return "", false
	}
	return sb.String(), true
}

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return domain.NewDomainError("Bedrock", domain.ErrRateLimit, msg)
		case "AccessDeniedException", "UnrecognizedClientException":
			return domain.NewDomainError("Bedrock", domain.ErrAuthInvalid, msg)
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
			return domain.NewDomainError("Bedrock", domain.ErrUnavailable, msg)
		case "ValidationException":
			return domain.NewDomainError("Bedrock", domain.ErrInvalidInput, msg)
		}
		return domain.NewDomainError("Bedrock", domain.ErrProviderError, msg)
	}
	return domain.NewDomainError("Bedrock", domain.ErrUnavailable, err.Error())
}
