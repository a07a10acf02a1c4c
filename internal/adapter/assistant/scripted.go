package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"askuni/internal/domain"
)

// Scripted is an offline backend that replies with a fixed script, word by
// word. It backs local development and end-to-end tests of the stream path.
type Scripted struct {
	reply     string
	citations []domain.Citation
	delay     time.Duration
	threads   atomic.Int64
}

var (
	_ domain.Assistant      = (*Scripted)(nil)
	_ domain.CitationSource = (*Scripted)(nil)
)

// NewScripted returns a backend answering with the script joined by newlines.
// When cite is set every reply is reported as grounded.
func NewScripted(script []string, cite bool, delay time.Duration) *Scripted {
	reply := strings.Join(script, "\n")
	if reply == "" {
		reply = "This is a scripted reply."
	}
	s := &Scripted{reply: reply, delay: delay}
	if cite {
		s.citations = []domain.Citation{{FileID: "file-scripted", Quote: reply}}
	}
	return s
}

// Name implements domain.Assistant.
func (s *Scripted) Name() string { return "scripted" }

// NewThread implements domain.Assistant.
func (s *Scripted) NewThread(context.Context) (string, error) {
	return fmt.Sprintf("scripted_%d", s.threads.Add(1)), nil
}

// StreamGenerate implements domain.Assistant.
func (s *Scripted) StreamGenerate(ctx context.Context, _, _ string) (<-chan domain.GenerationDelta, error) {
	ch := make(chan domain.GenerationDelta)
	go func() {
		defer close(ch)
		for _, piece := range splitKeep(s.reply) {
			if s.delay > 0 && sleepCtx(ctx, s.delay) != nil {
				return
			}
			select {
			case ch <- domain.GenerationDelta{Text: piece}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- domain.GenerationDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// BlockingGenerate implements domain.Assistant.
func (s *Scripted) BlockingGenerate(context.Context, string, string) (string, error) {
	return s.reply, nil
}

// LatestCitations implements domain.CitationSource.
func (s *Scripted) LatestCitations(context.Context, string) ([]domain.Citation, error) {
	return s.citations, nil
}

// splitKeep splits text after each space so the pieces concatenate back to
// the original.
func splitKeep(text string) []string {
	var out []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
