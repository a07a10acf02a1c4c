package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"askuni/internal/domain"
	"askuni/internal/infra/config"
)

// Backend is the assembled generation backend.
type Backend struct {
	// Assistant is nil when Unavailable is set.
	Assistant domain.Assistant
	// Citations is nil for backends that cannot report citations.
	Citations domain.CitationSource
	// Unavailable explains why the server runs offline.
	Unavailable error
	// Breaker is set when circuit breaking is enabled.
	Breaker *Breaker
}

// New builds the backend selected by cfg. Missing credentials are not an
// error: the backend comes back offline with the reason in Unavailable.
func New(ctx context.Context, cfg config.AssistantConfig, logger *slog.Logger) (*Backend, error) {
	if !cfg.Configured() {
		logger.Warn("assistant offline", "provider", cfg.Provider, "reason", "missing credentials")
		return &Backend{Unavailable: domain.NewDomainError("Assistant.New", domain.ErrAssistantOffline, "missing credentials")}, nil
	}

	var b Backend
	switch cfg.Provider {
	case "openai":
		if cfg.VectorStoreID() == "" {
			logger.Warn("assistant offline", "provider", cfg.Provider, "reason", "no vector store")
			return &Backend{Unavailable: domain.NewDomainError("Assistant.New", domain.ErrKnowledgeMissing, "no vector store")}, nil
		}
		oa := NewOpenAIAssistant(OpenAIConfig{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			AssistantID:     cfg.AssistantID,
			VectorStoreIDs:  []string{cfg.VectorStoreID()},
			Instructions:    cfg.Instructions,
			Temperature:     cfg.Temperature,
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.MaxPollAttempts,
			ConnTimeout:     cfg.ConnTimeout,
		}, logger)
		b.Assistant, b.Citations = oa, oa
	case "bedrock":
		if cfg.RequireCitations {
			return nil, fmt.Errorf("assistant: bedrock cannot satisfy require_citations")
		}
		br, err := NewBedrockAssistant(ctx, BedrockConfig{
			Model:        cfg.Model,
			Region:       cfg.Region,
			Instructions: cfg.Instructions,
			Temperature:  cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, err
		}
		b.Assistant = br
	case "scripted":
		s := NewScripted(cfg.Script, true, 0)
		b.Assistant, b.Citations = s, s
	default:
		return nil, fmt.Errorf("assistant: unknown provider %q", cfg.Provider)
	}

	if cfg.CircuitBreaker.Enabled {
		b.Breaker = NewBreaker(b.Assistant, BreakerConfig{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			Timeout:     cfg.CircuitBreaker.Timeout,
			Interval:    cfg.CircuitBreaker.Interval,
		}, logger)
		b.Assistant = b.Breaker
	}
	logger.Info("assistant ready", "provider", cfg.Provider, "breaker", cfg.CircuitBreaker.Enabled)
	return &b, nil
}
