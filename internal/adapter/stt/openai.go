// Package stt transcribes recorded audio through the OpenAI audio API.
package stt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"

	"askuni/internal/domain"
)

const defaultModel = "gpt-4o-mini-transcribe"

// Transcriber implements domain.Transcriber.
type Transcriber struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ domain.Transcriber = (*Transcriber)(nil)

// New creates a Transcriber. An empty baseURL uses the public API.
func New(apiKey, baseURL, model string, logger *slog.Logger) *Transcriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	return &Transcriber{client: openai.NewClientWithConfig(cfg), model: model, logger: logger}
}

// Transcribe sends audio to the transcription endpoint. The language is
// detected by the model.
func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	const op = "STT.Transcribe"
	if len(audio) == 0 {
		return "", domain.NewDomainError(op, domain.ErrInvalidInput, "No audio received")
	}
	// The API infers the container from the extension.
	if filepath.Ext(filename) == "" {
		filename = "speech.webm"
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filepath.Base(filename),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		t.logger.Warn("transcription failed", "model", t.model, "error", err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", domain.NewDomainError(op, domain.ErrProviderError, apiErr.Message)
		}
		return "", domain.NewDomainError(op, domain.ErrUnavailable, err.Error())
	}
	return strings.TrimSpace(resp.Text), nil
}
