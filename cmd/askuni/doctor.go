package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sashabaranov/go-openai"

	"askuni/internal/adapter/history"
	"askuni/internal/domain"
	"askuni/internal/infra/config"
	"askuni/internal/security"
)

const defaultJWTSecret = "dev_secret_change_me"

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// doctorChecks lists the checks in report order. The config file check is
// bound to the load result since it runs even when loading failed.
func doctorChecks(cfgPath string, cfgErr error) []Check {
	return []Check{
		{"Config file", checkConfigFile(cfgPath, cfgErr)},
		{"Assistant config", checkAssistantConfig},
		{"Assistant connectivity", checkAssistantConnectivity},
		{"History database", checkHistoryDB},
		{"Upload directory", checkUploadDir},
		{"Token secret", checkJWTSecret},
		{"Mail", checkMail},
		{"Audit log", checkAudit},
		{"Disk space", checkDiskSpace},
	}
}

// runDoctor runs every check against the loaded config, prints a table and
// fails when any check failed.
func runDoctor(w io.Writer, cfgPath string) error {
	cfg, cfgErr := config.Load(cfgPath)

	results := make([]CheckResult, 0, 9)
	tally := map[CheckStatus]int{}
	for _, c := range doctorChecks(cfgPath, cfgErr) {
		r := c.Fn(cfg)
		r.Name = c.Name
		results = append(results, r)
		tally[r.Status]++
	}

	fmt.Fprintf(w, "askuni doctor (%s)\n\n", cfgPath)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Status, r.Name, r.Message)
		if r.Fix != "" {
			fmt.Fprintf(tw, "\t\t-> %s\n", r.Fix)
		}
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d ok, %d warning(s), %d failure(s)\n",
		tally[StatusPass], tally[StatusWarn], tally[StatusFail])
	if n := tally[StatusFail]; n > 0 {
		return fmt.Errorf("%d check(s) failed", n)
	}
	return nil
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file is allowed: defaults and ASKUNI_* variables apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			fix := "Check config.yaml syntax and the ASKUNI_* variables"
			if errors.Is(cfgErr, domain.ErrDecryption) {
				fix = "Set ASKUNI_CONFIG_KEY to the passphrase the enc: values were encrypted with"
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fix,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAssistantConfig reports whether the server will start online.
func checkAssistantConfig(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	a := cfg.Assistant
	if !a.Configured() {
		fix := "Set OPENAI_API_KEY and ASKUNI_ASSISTANT_ID"
		if a.Provider == "bedrock" {
			fix = "Set assistant.model to a Bedrock model id"
		}
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("provider %q is missing credentials; the server will answer offline", a.Provider),
			Fix:     fix,
		}
	}
	if a.Provider == "openai" && a.VectorStoreID() == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "no vector store configured; answers cannot be grounded",
			Fix:     "Set ASKUNI_VECTOR_STORE_IDS",
		}
	}
	if a.Provider == "scripted" {
		return CheckResult{Status: StatusWarn, Message: "scripted provider returns canned answers"}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("provider %s configured (citations required: %v)", a.Provider, a.RequireCitations),
	}
}

// checkAssistantConnectivity lists models with the configured key.
func checkAssistantConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	a := cfg.Assistant
	switch {
	case a.Provider != "openai":
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("skipped for provider %q", a.Provider)}
	case a.APIKey == "":
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key"}
	}

	oc := openai.DefaultConfig(a.APIKey)
	if a.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(a.BaseURL, "/")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := openai.NewClientWithConfig(oc).ListModels(ctx)
	took := time.Since(start).Round(time.Millisecond)
	if err == nil {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s answered in %s", oc.BaseURL, took)}
	}

	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch {
	case code == http.StatusUnauthorized:
		return CheckResult{Status: StatusFail, Message: "API key rejected", Fix: "Check OPENAI_API_KEY"}
	case code == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", oc.BaseURL, err),
			Fix:     "Check network access and assistant.base_url",
		}
	}
	return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("%s returned %d", oc.BaseURL, code)}
}

// checkHistoryDB opens the database, which also applies the schema.
func checkHistoryDB(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.History.Path, err),
			Fix:     "Check history.path and its directory permissions",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("ping failed: %v", err)}
	}

	msg := fmt.Sprintf("database ready at %s", cfg.History.Path)
	if !cfg.History.Enabled {
		return CheckResult{Status: StatusWarn, Message: msg + " (chat history disabled)"}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

// checkUploadDir creates the upload directory if needed and probes it with a
// temporary file.
func checkUploadDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir, _ := filepath.Abs(cfg.Upload.Dir)

	verb := "writable"
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		verb = "created"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot use %s: %v", dir, err),
			Fix:     "Point upload.dir at a directory the server can create",
		}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:     "chmod u+w " + dir,
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s %s, files kept %s", dir, verb, cfg.Upload.Retention)}
}

func checkJWTSecret(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	switch {
	case cfg.Auth.JWTSecret == defaultJWTSecret:
		return CheckResult{
			Status:  StatusWarn,
			Message: "using the development token secret",
			Fix:     "Set ASKUNI_JWT_SECRET to a long random value",
		}
	case len(cfg.Auth.JWTSecret) < 32:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("token secret is short (%d bytes)", len(cfg.Auth.JWTSecret)),
			Fix:     "Use at least 32 random bytes",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("token secret set, tokens valid for %s", cfg.Auth.TokenTTL)}
}

func checkMail(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	switch cfg.Mail.Provider {
	case "", "log":
		return CheckResult{
			Status:  StatusWarn,
			Message: "reset codes are written to the log, not emailed",
			Fix:     "Set mail.provider: resend with api_key and from",
		}
	case "resend":
		if cfg.Mail.APIKey == "" || cfg.Mail.From == "" {
			return CheckResult{Status: StatusFail, Message: "resend requires api_key and from"}
		}
		return CheckResult{Status: StatusPass, Message: "reset codes sent via Resend from " + cfg.Mail.From}
	}
	return CheckResult{Status: StatusFail, Message: fmt.Sprintf("unknown mail provider %q", cfg.Mail.Provider)}
}

func checkAudit(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Audit.Enabled {
		return CheckResult{
			Status:  StatusWarn,
			Message: "account audit trail disabled",
			Fix:     "Set audit.enabled: true",
		}
	}
	maxSize, err := security.ParseSize(cfg.Audit.MaxSize)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Use a size such as 50MB"}
	}
	audit, err := security.OpenJournal(cfg.Audit.Path, security.Retention{MaxAge: cfg.Audit.MaxAge, MaxSize: maxSize})
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Audit.Path, err),
			Fix:     "Check permissions on the audit directory",
		}
	}
	audit.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("writing %s (keep %s)", cfg.Audit.Path, cfg.Audit.MaxAge)}
}

// checkDiskSpace reads the usage of the filesystem holding the database
// from POSIX df output.
func checkDiskSpace(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir, _ := filepath.Abs(filepath.Dir(cfg.History.Path))
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return CheckResult{Status: StatusPass, Message: "skipped, data directory not created yet"}
	}

	out, err := exec.Command("df", "-P", "-k", dir).Output()
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, df failed: " + err.Error()}
	}
	used, freeKB, ok := parseDF(out)
	if !ok {
		return CheckResult{Status: StatusWarn, Message: "skipped, unexpected df output"}
	}

	msg := fmt.Sprintf("%d%% used, %.1f GiB free", used, float64(freeKB)/(1<<20))
	switch {
	case used >= 95:
		return CheckResult{Status: StatusFail, Message: msg, Fix: "Free space or move history.path and upload.dir"}
	case used >= 85:
		return CheckResult{Status: StatusWarn, Message: msg}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

// parseDF returns the capacity percentage and available kilobytes from the
// last line of `df -P -k`.
func parseDF(out []byte) (usedPct int, availKB int64, ok bool) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return 0, 0, false
	}
	f := strings.Fields(lines[len(lines)-1])
	if len(f) < 5 {
		return 0, 0, false
	}
	avail, err1 := strconv.ParseInt(f[3], 10, 64)
	pct, err2 := strconv.Atoi(strings.TrimSuffix(f[4], "%"))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return pct, avail, true
}
