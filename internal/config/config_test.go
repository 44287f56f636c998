package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequired(t *testing.T, storageDir, logDir string) {
	t.Helper()
	t.Setenv("FLEET_STORAGE_DIR", storageDir)
	t.Setenv("FLEET_LOG_DIR", logDir)
	t.Setenv("FLEET_DATABASE_URL", "sqlite://fleet.db")
}

func TestLoadMissingRequired(t *testing.T) {
	for _, name := range requiredEnvVars {
		os.Unsetenv(name)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when required env vars are missing")
	}
}

func TestLoadCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	storageDir := filepath.Join(base, "storage")
	logDir := filepath.Join(base, "logs")
	setRequired(t, storageDir, logDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, dir := range []string{storageDir, logDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
	if cfg.DatabaseURL != "sqlite://fleet.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	setRequired(t, filepath.Join(base, "storage"), filepath.Join(base, "logs"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
}

func TestLoadAllowedOriginsList(t *testing.T) {
	base := t.TempDir()
	setRequired(t, filepath.Join(base, "storage"), filepath.Join(base, "logs"))
	t.Setenv("FLEET_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}
