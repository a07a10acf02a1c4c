package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"askuni/internal/adapter/assistant"
	"askuni/internal/adapter/history"
	"askuni/internal/adapter/httpapi"
	"askuni/internal/adapter/mail"
	"askuni/internal/adapter/stt"
	"askuni/internal/adapter/upload"
	"askuni/internal/domain"
	"askuni/internal/infra/config"
	"askuni/internal/infra/logger"
	"askuni/internal/infra/tracer"
	"askuni/internal/security"
	"askuni/internal/usecase"
)

// runServe wires every component and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfgPath string) error {
	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Storage. Accounts always live in the database; storing chat turns
	// is controlled by history.enabled.
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	var turns domain.HistoryStore
	if cfg.History.Enabled {
		turns = store
	}

	// 4. Assistant backend
	backend, err := assistant.New(ctx, cfg.Assistant, log)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}

	// 5. Use cases
	metrics := httpapi.NewMetrics()
	chat := usecase.NewChatService(usecase.ChatDeps{
		Assistant: backend.Assistant,
		Citations: backend.Citations,
		History:   turns,
		Observer:  metrics,
		Logger:    log,
	}, usecase.ChatOptions{
		KeepAlive:        cfg.Server.KeepAlive,
		RequireCitations: cfg.Assistant.RequireCitations,
		University:       cfg.Identity.University,
		Replace:          cfg.Identity.Replace,
		Unavailable:      backend.Unavailable,
	})

	mailer, err := mail.New(cfg.Mail, log)
	if err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	auth, err := usecase.NewAuthService(store, mailer, usecase.AuthOptions{
		Secret:         []byte(cfg.Auth.JWTSecret),
		TokenTTL:       cfg.Auth.TokenTTL,
		EmailPattern:   cfg.Auth.EmailPattern,
		ResetCodeTTL:   cfg.Auth.ResetCodeTTL,
		BcryptCost:     cfg.Auth.BcryptCost,
		MinPasswordLen: cfg.Auth.MinPasswordLen,
	}, log)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	audit, err := openAudit(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if audit != nil {
		defer audit.Close()
		auth.SetAudit(audit)
	}

	uploads, err := upload.NewStore(cfg.Upload.Dir, cfg.Upload.MaxExtractChars, log)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	transcriber := newTranscriber(cfg, log)

	// 6. Maintenance
	maint := usecase.NewMaintenance(log)
	if err := maint.RegisterDefaults(store, uploads, cfg.Upload.Retention); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if audit != nil {
		if err := maint.RegisterAuditRetention(audit); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}
	maint.Start(ctx)
	defer maint.Stop()

	// 7. HTTP server
	deps := httpapi.Deps{
		Chat:          chat,
		Auth:          auth,
		History:       turns,
		Uploads:       uploads,
		Transcriber:   transcriber,
		Metrics:       metrics,
		AssistantName: cfg.Assistant.Provider,
	}
	if audit != nil {
		deps.Audit = audit
	}
	srv := httpapi.NewServer(deps, httpapi.OptionsFrom(cfg), log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	log.Info("askuni starting",
		"version", version,
		"addr", srv.Addr(),
		"provider", cfg.Assistant.Provider,
		"offline", backend.Unavailable != nil,
		"history", cfg.History.Enabled,
		"stt", transcriber != nil,
		"mail", cfg.Mail.Provider,
		"audit", audit != nil,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

// newTranscriber returns nil when no OpenAI key is available. The assistant
// key is reused when stt.api_key is empty.
func newTranscriber(cfg *config.Config, log *slog.Logger) domain.Transcriber {
	key := cfg.STT.APIKey
	baseURL := ""
	if key == "" && cfg.Assistant.Provider == "openai" {
		key = cfg.Assistant.APIKey
		baseURL = cfg.Assistant.BaseURL
	}
	if key == "" {
		log.Info("speech to text disabled", "reason", "no api key")
		return nil
	}
	return stt.New(key, baseURL, cfg.STT.Model, log)
}

// openAudit returns nil when the audit trail is disabled.
func openAudit(cfg config.AuditConfig) (*security.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	maxSize, err := security.ParseSize(cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	return security.OpenJournal(cfg.Path, security.Retention{MaxAge: cfg.MaxAge, MaxSize: maxSize})
}
