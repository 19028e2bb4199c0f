package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	BaseURL string        `split_words:"true" default:"http://localhost"`
	APIKey  string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"3s"`
}

func TestLoadEnvFileExportsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_API_KEY=from-file\nCFGTEST_TIMEOUT=7s\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CFGTEST_TIMEOUT", "9s")
	t.Cleanup(func() { _ = os.Unsetenv("CFGTEST_API_KEY") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("CFGTEST_API_KEY"); got != "from-file" {
		t.Fatalf("CFGTEST_API_KEY = %q", got)
	}
	if got := os.Getenv("CFGTEST_TIMEOUT"); got != "9s" {
		t.Fatalf("CFGTEST_TIMEOUT = %q, want env to win", got)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestNewProcessesPrefix(t *testing.T) {
	t.Setenv("CFGNEW_API_KEY", "k")
	t.Setenv("CFGNEW_TIMEOUT", "250ms")

	conf, err := New[testConfig]("CFGNEW")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.APIKey != "k" || conf.Timeout != 250*time.Millisecond || conf.BaseURL != "http://localhost" {
		t.Fatalf("unexpected config: %+v", conf)
	}
}

func TestNewRequiredMissing(t *testing.T) {
	if _, err := New[testConfig]("CFGMISSING"); err == nil {
		t.Fatal("expected error for missing required key")
	}
}
