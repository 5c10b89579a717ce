package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PROVISION_TOKEN", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.Default != "static" {
		t.Errorf("expected static default backend, got %s", cfg.Backend.Default)
	}
	if cfg.Defaults.Concurrency != 16 || cfg.Defaults.ProbeAttempts != 20 {
		t.Errorf("unexpected defaults: %+v", cfg.Defaults)
	}
	if cfg.ProbeTimeout() != 5*time.Minute {
		t.Errorf("probe timeout: %v", cfg.ProbeTimeout())
	}
	if cfg.DeployTimeout() != 30*time.Minute {
		t.Errorf("deploy timeout: %v", cfg.DeployTimeout())
	}
}

func TestLoadExplicitMissingFileIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing file")
	}
}

func TestLoadOverridesAndFillsGaps(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PROVISION_TOKEN", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
suite_dir: /opt/suites
backend:
  default: virtcmd
defaults:
  user: ops
  test_timeout_minutes: 5
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SuiteDir != "/opt/suites" || cfg.Backend.Default != "virtcmd" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Defaults.User != "ops" {
		t.Errorf("user override not applied: %s", cfg.Defaults.User)
	}
	if cfg.TestTimeout() != 5*time.Minute {
		t.Errorf("test timeout: %v", cfg.TestTimeout())
	}
	// Unset keys still get their defaults.
	if cfg.Deploy.Binary != "ansible-playbook" || cfg.Defaults.SSHPort != 22 {
		t.Errorf("gaps not filled: %+v", cfg)
	}
}

func TestSecretsOverlaySetsToken(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("PROVISION_TOKEN", "")
	dir := filepath.Join(base, "clustertest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	secrets := "# provisioning credentials\nPROVISION_TOKEN=abc123\n"
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte(secrets), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.RESTAPI.Token != "abc123" {
		t.Errorf("token not overlaid: %q", cfg.Backend.RESTAPI.Token)
	}
}

func TestEnvTokenWinsOverSecretsFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	dir := filepath.Join(base, "clustertest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("PROVISION_TOKEN=file-token\n"), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	t.Setenv("PROVISION_TOKEN", "env-token")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.RESTAPI.Token != "env-token" {
		t.Errorf("environment token should win: %q", cfg.Backend.RESTAPI.Token)
	}
}

func TestLoadSecretsEnvParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	body := "# comment\n\nA=1\n B = spaced \nnot-a-pair\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadSecretsEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["A"] != "1" || got["B"] != "spaced" {
		t.Errorf("unexpected pairs: %v", got)
	}
	if _, ok := got["not-a-pair"]; ok {
		t.Errorf("line without = must be skipped")
	}
}
