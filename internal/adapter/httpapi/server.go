// Package httpapi is the HTTP surface of the server: the streaming and
// blocking message endpoints, accounts, history, uploads, speech to text,
// health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"askuni/internal/adapter/upload"
	"askuni/internal/domain"
	"askuni/internal/infra/config"
	"askuni/internal/infra/middleware"
	"askuni/internal/usecase"
)

const (
	defaultMaxBody   = 1 << 20
	defaultMaxUpload = 10 << 20
)

// Uploader stores a document and extracts its text.
type Uploader interface {
	Save(ctx context.Context, filename, contentType string, data []byte) (*upload.Result, error)
}

// Deps are the collaborators the handlers call. Chat and Auth are required.
// History, Uploads, Transcriber and Metrics may be nil; their endpoints then
// answer 503 (metrics is not mounted at all).
type Deps struct {
	Chat        *usecase.ChatService
	Auth        *usecase.AuthService
	History     domain.HistoryStore
	Uploads     Uploader
	Transcriber domain.Transcriber
	Metrics     *Metrics
	// Audit records chat deletions; nil disables it.
	Audit domain.AuditSink
	// AssistantName is reported by the health endpoint.
	AssistantName string
}

// Options are the listener and limit settings.
type Options struct {
	Server      config.ServerConfig
	AuthRate    int
	AuthWindow  time.Duration
	MaxUpload   int64
	MetricsPath string
}

// OptionsFrom collects the HTTP settings out of a loaded config.
func OptionsFrom(cfg *config.Config) Options {
	opts := Options{
		Server:     cfg.Server,
		AuthRate:   cfg.Auth.RateLimit,
		AuthWindow: cfg.Auth.RateWindow,
		MaxUpload:  cfg.Upload.MaxBytes,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return opts
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	server    *http.Server
	boundAddr string
	mu        sync.Mutex

	// Lifecycle of the rate limiter cleanup goroutines.
	cancel context.CancelFunc
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if opts.Server.MaxBodyBytes <= 0 {
		opts.Server.MaxBodyBytes = defaultMaxBody
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = defaultMaxUpload
	}
	return &Server{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Handler builds the routed, middleware-wrapped handler. Rate limiter
// goroutines stop when ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	messageLimit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		Requests:       s.opts.Server.MessageRatePerMin,
		Window:         time.Minute,
		Burst:          s.opts.Server.MessageRateBurst,
		TrustedProxies: s.opts.Server.TrustedProxies,
	})
	authLimit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		Requests:       s.opts.AuthRate,
		Window:         s.opts.AuthWindow,
		TrustedProxies: s.opts.Server.TrustedProxies,
	})
	limited := func(limit func(http.Handler) http.Handler, enabled bool, h http.HandlerFunc) http.Handler {
		if !enabled {
			return h
		}
		return limit(h)
	}
	msgOn := s.opts.Server.MessageRatePerMin > 0
	authOn := s.opts.AuthRate > 0

	mux.Handle("POST /message/stream", limited(messageLimit, msgOn, s.handleStream))
	mux.Handle("POST /message", limited(messageLimit, msgOn, s.handleBlocking))

	mux.Handle("POST /auth/register", limited(authLimit, authOn, s.handleRegister))
	mux.Handle("POST /auth/login", limited(authLimit, authOn, s.handleLogin))
	mux.Handle("POST /auth/request-reset", limited(authLimit, authOn, s.handleRequestReset))
	mux.Handle("POST /auth/reset", limited(authLimit, authOn, s.handleReset))
	mux.Handle("GET /auth/me", middleware.RequireIdentity(http.HandlerFunc(s.handleMe)))

	mux.Handle("GET /chats", middleware.RequireIdentity(http.HandlerFunc(s.handleListChats)))
	mux.Handle("GET /chats/{id}", middleware.RequireIdentity(http.HandlerFunc(s.handleGetChat)))
	mux.Handle("DELETE /chats/{id}", middleware.RequireIdentity(http.HandlerFunc(s.handleDeleteChat)))

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /stt", s.handleSTT)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.deps.Metrics != nil && s.opts.MetricsPath != "" {
		mux.Handle("GET "+s.opts.MetricsPath, s.deps.Metrics.Handler())
	}

	return middleware.Chain(mux,
		middleware.Logging(s.logger),
		middleware.Tracing,
		middleware.SecurityHeaders,
		middleware.CORS(s.opts.Server.CORSOrigins),
		middleware.Identity(s.deps.Auth, s.logger),
	)
}

// Start begins serving. Non-blocking (serves in a goroutine).
func (s *Server) Start(ctx context.Context) error {
	lifecycle, cancel := context.WithCancel(ctx)

	srv := &http.Server{
		Addr:              s.opts.Server.Addr,
		Handler:           s.Handler(lifecycle),
		ReadHeaderTimeout: s.opts.Server.ReadHeaderTimeout,
		IdleTimeout:       s.opts.Server.IdleTimeout,
		// No WriteTimeout: streams stay open for the whole generation.
		BaseContext: func(_ net.Listener) context.Context {
			return lifecycle
		},
	}

	ln, err := net.Listen("tcp", s.opts.Server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listen %s: %w", s.opts.Server.Addr, err)
	}

	s.mu.Lock()
	s.server = srv
	s.boundAddr = ln.Addr().String()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		s.logger.Info("http server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop gracefully shuts down the server, waiting for open streams until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	cancel()
	return err
}
