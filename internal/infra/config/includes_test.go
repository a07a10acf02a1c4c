package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "secrets.yaml", `
assistant:
  api_key: sk-from-include
  assistant_id: asst_inc
server:
  addr: ":9999"
`)
	path := writeConfig(t, dir, "config.yaml", `
includes: ["secrets.yaml"]
server:
  addr: ":3001"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.APIKey != "sk-from-include" {
		t.Errorf("APIKey = %q", cfg.Assistant.APIKey)
	}
	if cfg.Server.Addr != ":3001" {
		t.Errorf("main file should win, Addr = %q", cfg.Server.Addr)
	}
}

func TestIncludeGlobAndNested(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(sub, 0700); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, sub, "10-mail.yaml", "mail:\n  from: a@example.com\nincludes: [\"20-extra.yaml\"]\n")
	writeConfig(t, sub, "20-extra.yaml", "identity:\n  university: Test University\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [\"conf.d/10-*.yaml\"]\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mail.From != "a@example.com" {
		t.Errorf("Mail.From = %q", cfg.Mail.From)
	}
	if cfg.Identity.University != "Test University" {
		t.Errorf("University = %q", cfg.Identity.University)
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes: [\"b.yaml\"]\n")
	writeConfig(t, dir, "b.yaml", "includes: [\"a.yaml\"]\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [\"a.yaml\"]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("err = %v, want circular include", err)
	}
}

func TestIncludeEscape(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [\"../outside.yaml\"]\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("err = %v, want escape error", err)
	}
}

func TestIncludeMissingLiteral(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [\"missing.yaml\"]\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include")
	}
	path = writeConfig(t, dir, "config2.yaml", "includes: [\"none-*.yaml\"]\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("empty glob should be fine: %v", err)
	}
}

func TestIncludeCycleNamesChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "self.yaml", "includes: [\"self.yaml\"]\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [\"self.yaml\"]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "config.yaml -> self.yaml -> self.yaml") {
		t.Fatalf("err = %v", err)
	}
}
