// Package mail delivers transactional email.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"askuni/internal/domain"
	"askuni/internal/infra/config"
)

const defaultResendURL = "https://api.resend.com"

// New returns the mailer selected by cfg.
func New(cfg config.MailConfig, logger *slog.Logger) (domain.Mailer, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogMailer(logger), nil
	case "resend":
		if cfg.APIKey == "" || cfg.From == "" {
			return nil, fmt.Errorf("mail: resend requires api_key and from")
		}
		return NewResendMailer(cfg.APIKey, cfg.From, cfg.BaseURL, logger), nil
	}
	return nil, fmt.Errorf("mail: unknown provider %q", cfg.Provider)
}

// LogMailer writes messages to the log instead of sending them. The body is
// only visible at debug level.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send implements domain.Mailer.
func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("mail not sent (log provider)", "to", to, "subject", subject)
	m.logger.Debug("mail body", "to", to, "body", body)
	return nil
}

// ResendMailer sends HTML email through the Resend API.
type ResendMailer struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewResendMailer creates a ResendMailer. An empty baseURL uses the public API.
func NewResendMailer(apiKey, from, baseURL string, logger *slog.Logger) *ResendMailer {
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	return &ResendMailer{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send implements domain.Mailer.
func (m *ResendMailer) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(resendRequest{From: m.from, To: []string{to}, Subject: subject, HTML: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.NewDomainError("Mail.Send", domain.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		m.logger.Warn("email send failed", "status", resp.StatusCode, "body", string(detail))
		return domain.NewDomainError("Mail.Send", domain.ErrUnavailable, fmt.Sprintf("Email send failed (%d)", resp.StatusCode))
	}
	return nil
}
