package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatIntervalSeconds != 60 {
		t.Errorf("expected default heartbeat interval 60, got %d", cfg.HeartbeatIntervalSeconds)
	}
	if cfg.IdleThresholdSeconds != 300 {
		t.Errorf("expected default idle threshold 300, got %d", cfg.IdleThresholdSeconds)
	}
	if cfg.OfflineQueueMax != 100 {
		t.Errorf("expected default offline queue max 100, got %d", cfg.OfflineQueueMax)
	}
}

func TestLoadReadsFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server_url":"http://file.example","heartbeat_interval_seconds":45}`), 0o600); err != nil {
		t.Fatalf("writing seed config: %v", err)
	}

	t.Setenv("FLEET_SERVER_URL", "http://env.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://env.example" {
		t.Errorf("expected env to win over file, got %s", cfg.ServerURL)
	}
	if cfg.HeartbeatIntervalSeconds != 45 {
		t.Errorf("expected file value to survive when no env override, got %d", cfg.HeartbeatIntervalSeconds)
	}
}

func TestSaveCredentialsPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SaveCredentials("agt_abc123", "11111111-1111-7111-8111-111111111111"); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if reloaded.AgentToken != "agt_abc123" {
		t.Errorf("expected persisted agent token, got %q", reloaded.AgentToken)
	}
	if reloaded.MachineID != "11111111-1111-7111-8111-111111111111" {
		t.Errorf("expected persisted machine id, got %q", reloaded.MachineID)
	}
}
