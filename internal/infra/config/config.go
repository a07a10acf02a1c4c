package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"askuni/internal/domain"
)

// Config is the root configuration of the askuni server.
type Config struct {
	Includes  []string        `yaml:"includes,omitempty"`
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	History   HistoryConfig   `yaml:"history"`
	Auth      AuthConfig      `yaml:"auth"`
	Upload    UploadConfig    `yaml:"upload"`
	STT       STTConfig       `yaml:"stt"`
	Mail      MailConfig      `yaml:"mail"`
	Audit     AuditConfig     `yaml:"audit"`
	Identity  IdentityConfig  `yaml:"identity"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	KeepAlive         time.Duration `yaml:"keepalive"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	TrustedProxies    []string      `yaml:"trusted_proxies,omitempty"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	MessageRatePerMin int           `yaml:"message_rate_per_min"`
	MessageRateBurst  int           `yaml:"message_rate_burst"`
}

// CircuitBreakerConfig holds circuit breaker settings for the assistant backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AssistantConfig selects and configures the generation backend.
type AssistantConfig struct {
	Provider         string               `yaml:"provider"` // openai | bedrock | scripted
	APIKey           string               `yaml:"api_key"`
	BaseURL          string               `yaml:"base_url"`
	AssistantID      string               `yaml:"assistant_id"`
	VectorStoreIDs   []string             `yaml:"vector_store_ids"`
	Model            string               `yaml:"model"`
	Region           string               `yaml:"region,omitempty"`
	Temperature      float32              `yaml:"temperature"`
	Instructions     string               `yaml:"instructions"`
	PollInterval     time.Duration        `yaml:"poll_interval"`
	MaxPollAttempts  int                  `yaml:"max_poll_attempts"`
	RequireCitations bool                 `yaml:"require_citations"`
	ConnTimeout      time.Duration        `yaml:"conn_timeout"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	// Script is the canned reply used by the scripted provider.
	Script []string `yaml:"script,omitempty"`
}

// VectorStoreID returns the first configured vector store, or "".
func (a AssistantConfig) VectorStoreID() string {
	for _, id := range a.VectorStoreIDs {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// Configured reports whether enough settings are present to reach the backend.
func (a AssistantConfig) Configured() bool {
	switch a.Provider {
	case "openai":
		return a.APIKey != "" && a.AssistantID != ""
	case "bedrock":
		return a.Model != ""
	case "scripted":
		return true
	}
	return false
}

// HistoryConfig holds chat history storage settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds account and token settings.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	EmailPattern   string        `yaml:"email_pattern"`
	ResetCodeTTL   time.Duration `yaml:"reset_code_ttl"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
	MinPasswordLen int           `yaml:"min_password_len"`
}

// AuditConfig controls the account audit trail. MaxSize accepts sizes such
// as "50MB"; empty means unbounded.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"`
	MaxSize string        `yaml:"max_size"`
}

// UploadConfig holds document upload settings.
type UploadConfig struct {
	Dir             string        `yaml:"dir"`
	MaxBytes        int64         `yaml:"max_bytes"`
	MaxExtractChars int           `yaml:"max_extract_chars"`
	Retention       time.Duration `yaml:"retention"`
}

// STTConfig holds speech-to-text settings. An empty APIKey falls back to
// the assistant key.
type STTConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key,omitempty"`
}

// MailConfig holds transactional email settings.
type MailConfig struct {
	Provider string `yaml:"provider"` // log | resend
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// IdentityConfig names the institution answers must refer to.
type IdentityConfig struct {
	University string   `yaml:"university"`
	Replace    []string `yaml:"replace"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings. Spans go to stdout unless Path
// names a file. SampleRatio outside (0,1) samples everything.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Path        string  `yaml:"path"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// defaultDataDir returns the persistent data directory under $HOME/.askuni.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".askuni")
}

// DefaultInstructions are appended to every assistant run.
const DefaultInstructions = `CRITICAL IDENTITY:
- "UoB" ALWAYS means "University of Bahrain".
- NEVER mention "University of Birmingham" unless the user explicitly asks.

KNOWLEDGE SOURCES:
- Use ONLY the file_search vector store (official course documents).
- NEVER answer from pretraining data or general web knowledge.
- Search thoroughly: try course code variants ("ITCS285", "ITCS 285", "ITCS-285") and synonyms.

RESPONSE RULES:
- Every academic fact MUST be grounded in file_search results with file_citation annotations.
- If the answer is not in the documents, reply: "I don't have this information in my knowledge base. Please check SIS/UCS or upload the official document."
- Never adjust dates or times. If documents disagree, say so and advise checking SIS/UCS.

FORMAT (Markdown): sections **Answer**, **Overview**, **Key Details**, **Next Steps**.`

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			KeepAlive:         15 * time.Second,
			CORSOrigins:       []string{"*"},
			MaxBodyBytes:      2 << 20,
			MessageRatePerMin: 30,
			MessageRateBurst:  10,
		},
		Assistant: AssistantConfig{
			Provider:         "openai",
			Temperature:      0,
			Instructions:     DefaultInstructions,
			PollInterval:     700 * time.Millisecond,
			MaxPollAttempts:  170,
			RequireCitations: true,
			ConnTimeout:      30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "askuni.db"),
		},
		Auth: AuthConfig{
			JWTSecret:      "dev_secret_change_me",
			TokenTTL:       12 * time.Hour,
			EmailPattern:   `^\d{9}@stu\.uob\.edu\.bh$`,
			ResetCodeTTL:   10 * time.Minute,
			RateLimit:      60,
			RateWindow:     15 * time.Minute,
			BcryptCost:     10,
			MinPasswordLen: 8,
		},
		Upload: UploadConfig{
			Dir:             filepath.Join(dataDir, "uploads"),
			MaxBytes:        10 << 20,
			MaxExtractChars: 12000,
			Retention:       30 * 24 * time.Hour,
		},
		STT: STTConfig{
			Model: "gpt-4o-mini-transcribe",
		},
		Mail: MailConfig{
			Provider: "log",
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "audit.jsonl"),
			MaxAge:  90 * 24 * time.Hour,
			MaxSize: "50MB",
		},
		Identity: IdentityConfig{
			University: "University of Bahrain",
			Replace:    []string{"University of Birmingham"},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied. Every
// failure matches domain.ErrConfigLoad.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := processIncludes(cfg, absPath); err != nil {
			return nil, err
		}
		// The main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ASKUNI_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ASKUNI_* env vars (and the conventional
// OPENAI_API_KEY) to config fields.
func ApplyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("ASKUNI_SERVER_ADDR", &cfg.Server.Addr)
	if v := os.Getenv("PORT"); v != "" && os.Getenv("ASKUNI_SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("ASKUNI_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}
	dur("ASKUNI_SERVER_KEEPALIVE", &cfg.Server.KeepAlive)

	str("ASKUNI_ASSISTANT_PROVIDER", &cfg.Assistant.Provider)
	str("OPENAI_API_KEY", &cfg.Assistant.APIKey)
	str("ASKUNI_ASSISTANT_API_KEY", &cfg.Assistant.APIKey)
	str("ASKUNI_ASSISTANT_ID", &cfg.Assistant.AssistantID)
	str("ASKUNI_ASSISTANT_BASE_URL", &cfg.Assistant.BaseURL)
	str("ASKUNI_ASSISTANT_MODEL", &cfg.Assistant.Model)
	str("ASKUNI_ASSISTANT_REGION", &cfg.Assistant.Region)
	if v := os.Getenv("ASKUNI_VECTOR_STORE_IDS"); v != "" {
		cfg.Assistant.VectorStoreIDs = splitAndTrim(v, ",")
	}
	dur("ASKUNI_ASSISTANT_POLL_INTERVAL", &cfg.Assistant.PollInterval)
	num("ASKUNI_ASSISTANT_MAX_POLL_ATTEMPTS", &cfg.Assistant.MaxPollAttempts)
	boolean("ASKUNI_ASSISTANT_REQUIRE_CITATIONS", &cfg.Assistant.RequireCitations)

	boolean("ASKUNI_HISTORY_ENABLED", &cfg.History.Enabled)
	str("ASKUNI_HISTORY_PATH", &cfg.History.Path)

	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("ASKUNI_JWT_SECRET", &cfg.Auth.JWTSecret)
	dur("ASKUNI_TOKEN_TTL", &cfg.Auth.TokenTTL)
	str("ASKUNI_EMAIL_PATTERN", &cfg.Auth.EmailPattern)

	str("ASKUNI_UPLOAD_DIR", &cfg.Upload.Dir)
	boolean("ASKUNI_AUDIT_ENABLED", &cfg.Audit.Enabled)
	str("ASKUNI_AUDIT_PATH", &cfg.Audit.Path)
	str("STT_MODEL", &cfg.STT.Model)
	str("ASKUNI_STT_MODEL", &cfg.STT.Model)

	str("ASKUNI_MAIL_PROVIDER", &cfg.Mail.Provider)
	str("RESEND_API_KEY", &cfg.Mail.APIKey)
	str("ASKUNI_MAIL_API_KEY", &cfg.Mail.APIKey)
	str("MAIL_FROM", &cfg.Mail.From)
	str("ASKUNI_MAIL_FROM", &cfg.Mail.From)
	if cfg.Mail.Provider == "log" && cfg.Mail.APIKey != "" && cfg.Mail.From != "" {
		cfg.Mail.Provider = "resend"
	}

	str("ASKUNI_UNIVERSITY", &cfg.Identity.University)

	str("ASKUNI_LOGGER_LEVEL", &cfg.Logger.Level)
	str("ASKUNI_LOGGER_FORMAT", &cfg.Logger.Format)
	str("ASKUNI_LOGGER_OUTPUT", &cfg.Logger.Output)
	if v := os.Getenv("ASKUNI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	str("ASKUNI_TRACER_EXPORTER", &cfg.Tracer.Exporter)
	str("ASKUNI_TRACER_PATH", &cfg.Tracer.Path)
	boolean("ASKUNI_METRICS_ENABLED", &cfg.Metrics.Enabled)
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"assistant.api_key": &cfg.Assistant.APIKey,
		"auth.jwt_secret":   &cfg.Auth.JWTSecret,
		"stt.api_key":       &cfg.STT.APIKey,
		"mail.api_key":      &cfg.Mail.APIKey,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", name, domain.ErrDecryption, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file is not writable by others,
// since it may hold secrets.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
