package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MIXAGENT_TEST_MARKER=present\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)
	defer os.Unsetenv("MIXAGENT_TEST_MARKER")

	if _, err := Load(""); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("MIXAGENT_TEST_MARKER"); got != "present" {
		t.Fatalf("expected .env to be applied to the process environment, got %q", got)
	}
}

func TestLoadWithoutDotEnvFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	if _, err := Load(""); err != nil {
		t.Fatalf("load without a .env file present should not fail: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.DHTPort != 8549 || cfg.Network.HTTPPort != 8550 {
		t.Fatalf("unexpected defaults: %+v", cfg.Network)
	}
}
