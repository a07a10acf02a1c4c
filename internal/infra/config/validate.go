package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// A missing assistant key is not an error: the server then runs offline and
// says so on every message.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAssistant(cfg, ve)
	validateHistory(cfg, ve)
	validateAuth(cfg, ve)
	validateUpload(cfg, ve)
	validateMail(cfg, ve)
	validateAudit(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q: %v", s.Addr, err)
	}
	if s.KeepAlive <= 0 {
		ve.Add("server.keepalive must be > 0")
	}
	if s.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be > 0")
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.MessageRatePerMin < 0 || s.MessageRateBurst < 0 {
		ve.Add("server message rate settings must be >= 0")
	}
	for _, p := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("server.trusted_proxies: %q is neither an IP nor a CIDR", p)
		}
	}
}

func validateAssistant(cfg *Config, ve *ValidationError) {
	a := cfg.Assistant
	switch a.Provider {
	case "openai", "bedrock", "scripted":
	default:
		ve.Add("assistant.provider %q must be one of openai, bedrock, scripted", a.Provider)
	}
	if a.PollInterval <= 0 {
		ve.Add("assistant.poll_interval must be > 0")
	}
	if a.MaxPollAttempts <= 0 {
		ve.Add("assistant.max_poll_attempts must be > 0")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		ve.Add("assistant.temperature must be within [0, 2]")
	}
	if a.CircuitBreaker.Enabled {
		if a.CircuitBreaker.MaxFailures == 0 {
			ve.Add("assistant.circuit_breaker.max_failures must be > 0")
		}
		if a.CircuitBreaker.Timeout <= 0 {
			ve.Add("assistant.circuit_breaker.timeout must be > 0")
		}
	}
	if a.Provider == "bedrock" && a.RequireCitations {
		ve.Add("assistant.require_citations is not supported by the bedrock provider")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if cfg.History.Enabled && cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
}

func validateAuth(cfg *Config, ve *ValidationError) {
	a := cfg.Auth
	if cfg.History.Enabled && len(a.JWTSecret) < 8 {
		ve.Add("auth.jwt_secret must be at least 8 characters")
	}
	if a.TokenTTL <= 0 {
		ve.Add("auth.token_ttl must be > 0")
	}
	if a.ResetCodeTTL <= 0 {
		ve.Add("auth.reset_code_ttl must be > 0")
	}
	if _, err := regexp.Compile(a.EmailPattern); err != nil {
		ve.Add("auth.email_pattern: %v", err)
	}
	if a.RateLimit <= 0 || a.RateWindow <= 0 {
		ve.Add("auth.rate_limit and auth.rate_window must be > 0")
	}
	if a.BcryptCost < 4 || a.BcryptCost > 31 {
		ve.Add("auth.bcrypt_cost must be within [4, 31]")
	}
	if a.MinPasswordLen < 6 {
		ve.Add("auth.min_password_len must be >= 6")
	}
}

func validateUpload(cfg *Config, ve *ValidationError) {
	u := cfg.Upload
	if u.Dir == "" {
		ve.Add("upload.dir is required")
	}
	if u.MaxBytes <= 0 {
		ve.Add("upload.max_bytes must be > 0")
	}
	if u.MaxExtractChars <= 0 {
		ve.Add("upload.max_extract_chars must be > 0")
	}
}

func validateMail(cfg *Config, ve *ValidationError) {
	switch cfg.Mail.Provider {
	case "log":
	case "resend":
		if cfg.Mail.APIKey == "" || cfg.Mail.From == "" {
			ve.Add("mail: resend requires api_key and from")
		}
	default:
		ve.Add("mail.provider %q must be log or resend", cfg.Mail.Provider)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	a := cfg.Audit
	if !a.Enabled {
		return
	}
	if a.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if a.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if a.MaxSize != "" && !sizePattern.MatchString(strings.ToUpper(strings.TrimSpace(a.MaxSize))) {
		ve.Add("audit.max_size %q must look like 100KB, 50MB or 1GB", a.MaxSize)
	}
}

var sizePattern = regexp.MustCompile(`^\d+\s*(B|KB|MB|GB)?$`)

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "json", "text":
	default:
		ve.Add("logger.format %q must be json or text", cfg.Logger.Format)
	}
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "noop", "stdout":
		default:
			ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
		}
		if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
			ve.Add("tracer.sample_ratio must be between 0 and 1")
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}
