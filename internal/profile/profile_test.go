package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if profile.SyncURL != "" {
		t.Errorf("SyncURL should be empty by default, got %q", profile.SyncURL)
	}
	if profile.SyncIntervalSec != 120 {
		t.Errorf("SyncIntervalSec default: expected 120, got %d", profile.SyncIntervalSec)
	}
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars()

	os.Setenv("SPARK_SYNC_URL", "https://sync.example.com/v1/push")
	os.Setenv("SPARK_SYNC_INTERVAL_SEC", "30")
	defer clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if profile.SyncURL != "https://sync.example.com/v1/push" {
		t.Errorf("SyncURL: got %q", profile.SyncURL)
	}
	if profile.SyncIntervalSec != 30 {
		t.Errorf("SyncIntervalSec: expected 30, got %d", profile.SyncIntervalSec)
	}
}

func TestValidateDefaultsSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
	}

	if err := profile.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := filepath.Join(dir, "spark_dev.db")
	if profile.DSN != expected {
		t.Errorf("DSN: expected %q, got %q", expected, profile.DSN)
	}
}

func TestValidateUnknownModeFallsBackToDemo(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{
		Mode: "staging",
		Data: dir,
	}

	if err := profile.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Mode != "demo" {
		t.Errorf("Mode: expected demo, got %q", profile.Mode)
	}
}

func clearEnvVars() {
	os.Unsetenv("SPARK_SYNC_URL")
	os.Unsetenv("SPARK_SYNC_INTERVAL_SEC")
}
