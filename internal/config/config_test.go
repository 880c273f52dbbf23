package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vayu.yaml")
	if err := os.WriteFile(path, []byte("num_workers: 4\n"), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NumWorkers != 4 {
		t.Fatalf("NumWorkers = %d, want 4", cfg.NumWorkers)
	}
	if cfg.DefaultTimeout != 20*time.Second {
		t.Fatalf("DefaultTimeout = %v, want 20s default", cfg.DefaultTimeout)
	}
	if cfg.DefaultUserAgent == "" {
		t.Fatalf("expected a default user agent to be filled in")
	}
	if cfg.Profiles == nil {
		t.Fatalf("expected Profiles to default to an empty, non-nil map")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error loading a missing config file")
	}
}

func TestResolveListenPortEnvOverride(t *testing.T) {
	t.Setenv("VAYU_LISTEN_PORT", "7000")
	if got := ResolveListenPort(); got != 7000 {
		t.Fatalf("ResolveListenPort() = %d, want 7000", got)
	}
}

func TestResolveListenPortDefault(t *testing.T) {
	t.Setenv("VAYU_LISTEN_PORT", "")
	if got := ResolveListenPort(); got != defaultListenPort {
		t.Fatalf("ResolveListenPort() = %d, want default %d", got, defaultListenPort)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenPort == 0 {
		t.Fatalf("expected Default() to fill a nonzero listen port")
	}
}
