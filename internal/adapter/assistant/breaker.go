package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"askuni/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// Breaker wraps an Assistant with circuit breaker protection. Only the
// calls that reach the backend count: thread creation, stream
// establishment and blocking runs. Failures inside an established stream
// are delivered on its channel and do not trip the breaker.
type Breaker struct {
	inner   domain.Assistant
	breaker *gobreaker.CircuitBreaker[string]
}

var _ domain.Assistant = (*Breaker)(nil)

// NewBreaker wraps inner. Zero config fields take defaults.
func NewBreaker(inner domain.Assistant, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "assistant:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller mistakes and cancellations say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, domain.ErrInvalidInput)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError("Assistant."+b.inner.Name(), domain.ErrCircuitOpen, "")
	}
	return err
}

// Name implements domain.Assistant.
func (b *Breaker) Name() string { return b.inner.Name() }

// NewThread implements domain.Assistant.
func (b *Breaker) NewThread(ctx context.Context) (string, error) {
	id, err := b.breaker.Execute(func() (string, error) {
		return b.inner.NewThread(ctx)
	})
	return id, b.wrap(err)
}

// StreamGenerate implements domain.Assistant.
func (b *Breaker) StreamGenerate(ctx context.Context, threadID, prompt string) (<-chan domain.GenerationDelta, error) {
	var ch <-chan domain.GenerationDelta
	_, err := b.breaker.Execute(func() (string, error) {
		var streamErr error
		ch, streamErr = b.inner.StreamGenerate(ctx, threadID, prompt)
		return "", streamErr
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return ch, nil
}

// BlockingGenerate implements domain.Assistant.
func (b *Breaker) BlockingGenerate(ctx context.Context, threadID, prompt string) (string, error) {
	text, err := b.breaker.Execute(func() (string, error) {
		return b.inner.BlockingGenerate(ctx, threadID, prompt)
	})
	return text, b.wrap(err)
}

// State returns the current breaker state for health reporting.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
