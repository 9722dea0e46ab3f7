package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, strings.Join([]string{
		"data_dir: " + dir,
		"endpoint: libsql://study.turso.io",
		"sync_interval: 30s",
		"desired_retention: 0.85",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Endpoint != "libsql://study.turso.io" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("sync_interval = %v, want 30s", cfg.SyncInterval)
	}
	if cfg.DesiredRetention != 0.85 {
		t.Errorf("desired_retention = %v, want 0.85", cfg.DesiredRetention)
	}

	// Unset values keep their defaults.
	if cfg.MaxErrors != 50 || cfg.MaxRetries != 5 {
		t.Errorf("retry tuning defaults: %d errors, %d retries", cfg.MaxErrors, cfg.MaxRetries)
	}
	if cfg.RetryBackoff != 2*time.Second {
		t.Errorf("retry_backoff = %v, want 2s", cfg.RetryBackoff)
	}
}

func TestLoad_DerivesPathsFromDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, "data_dir: "+dir))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := map[string]string{
		"db":      filepath.Join(dir, "leitner.db"),
		"media":   filepath.Join(dir, "media"),
		"inbox":   filepath.Join(dir, "inbox"),
		"session": filepath.Join(dir, "session.json"),
		"log":     filepath.Join(dir, "daemon.log"),
		"params":  filepath.Join(dir, "fsrs.toml"),
		"pid":     filepath.Join(dir, "daemon.pid"),
	}
	got := map[string]string{
		"db":      cfg.DBPath,
		"media":   cfg.MediaDir,
		"inbox":   cfg.InboxDir,
		"session": cfg.SessionPath,
		"log":     cfg.LogFile,
		"params":  cfg.SchedulerParamsPath,
		"pid":     cfg.PidPath(),
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s path = %q, want %q", name, got[name], w)
		}
	}
}

func TestLoad_ExplicitPathsWin(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, strings.Join([]string{
		"data_dir: " + dir,
		"db_path: /var/lib/leitner/other.db",
	}, "\n")))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/var/lib/leitner/other.db" {
		t.Errorf("db_path = %q, explicit value should win", cfg.DBPath)
	}
	if cfg.MediaDir != filepath.Join(dir, "media") {
		t.Errorf("media_dir should still derive, got %q", cfg.MediaDir)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("LEITNER_MAX_ERRORS", "9")
	cfg, err := Load(writeConfig(t, "data_dir: "+t.TempDir()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxErrors != 9 {
		t.Errorf("max_errors = %d, want env override 9", cfg.MaxErrors)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []string{
		"sync_interval: -5s",
		"max_errors: 0",
		"max_retries: -1",
		"retry_backoff: 0s",
		"desired_retention: 1.5",
	}
	for _, line := range cases {
		if _, err := Load(writeConfig(t, line)); err == nil {
			t.Errorf("expected rejection for %q", line)
		}
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync_interval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.DesiredRetention != 0.9 {
		t.Errorf("desired_retention = %v, want 0.9", cfg.DesiredRetention)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("expected refusal to overwrite existing config")
	}
}

func TestSchedulerParams_RetentionOverride(t *testing.T) {
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "fsrs.toml")
	if err := os.WriteFile(paramsPath, []byte("desired_retention = 0.95\n"), 0644); err != nil {
		t.Fatalf("failed to write params file: %v", err)
	}

	cfg, err := Load(writeConfig(t, strings.Join([]string{
		"data_dir: " + dir,
		"desired_retention: 0.8",
	}, "\n")))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p, err := cfg.SchedulerParams()
	if err != nil {
		t.Fatalf("SchedulerParams failed: %v", err)
	}
	if p.DesiredRetention != 0.8 {
		t.Errorf("retention = %v, config override should win", p.DesiredRetention)
	}

	// Without the override the params file value holds.
	cfg.DesiredRetention = 0
	p, err = cfg.SchedulerParams()
	if err != nil {
		t.Fatalf("SchedulerParams failed: %v", err)
	}
	if p.DesiredRetention != 0.95 {
		t.Errorf("retention = %v, want params file value 0.95", p.DesiredRetention)
	}
}
