package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUOTEFRIENDS_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 8080 || cfg.Store != StoreMemory || cfg.StoreWriteTimeout != 5*time.Second || cfg.StoreRetries != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotefriends.yaml")
	contents := strings.Join([]string{
		"port: 9090",
		"store: postgres",
		"databaseUrl: postgres://file",
		"pollInterval: 2s",
		"writeRateLimit: 1.5",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("QUOTEFRIENDS_CONFIG_FILE", path)
	t.Setenv("QUOTEFRIENDS_DATABASE_URL", "postgres://env")
	t.Setenv("QUOTEFRIENDS_STORE_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 9090 || cfg.Store != StorePostgres || cfg.PollInterval != 2*time.Second || cfg.WriteRateLimit != 1.5 {
		t.Fatalf("expected file values got %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("expected environment to win got %s", cfg.DatabaseURL)
	}
	if cfg.StoreRetries != 1 {
		t.Fatalf("expected malformed value to fall back got %d", cfg.StoreRetries)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"QUOTEFRIENDS_STORE": "redis"}},
		{name: "bad port", env: map[string]string{"QUOTEFRIENDS_PORT": "70000"}},
		{name: "zero burst", env: map[string]string{"QUOTEFRIENDS_WRITE_RATE_BURST": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("QUOTEFRIENDS_CONFIG_FILE", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("QUOTEFRIENDS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for a missing config file")
	}
}
