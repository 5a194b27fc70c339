// Package config resolves agent settings from three layers, highest
// priority first: process environment, an on-disk JSON config file, and
// built-in defaults. agent_token and machine_id are also written back to
// the config file once the agent registers, so a restart reuses them
// without re-registering.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds every agent setting named in the recognized option set.
type Config struct {
	ServerURL                string `json:"server_url"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
	IdleThresholdSeconds     int    `json:"idle_threshold_seconds"`
	LogLevel                 string `json:"log_level"`
	RetryMaxAttempts         int    `json:"retry_max_attempts"`
	RetryBaseDelaySeconds    int    `json:"retry_base_delay_seconds"`
	OfflineQueueMax          int    `json:"offline_queue_max"`
	AgentToken               string `json:"agent_token"`
	MachineID                string `json:"machine_id"`

	// path is where Save writes back agent_token/machine_id after a
	// successful registration. Empty if loaded without a file.
	path string
}

// Defaults returns the built-in option defaults from the recognized set.
func Defaults() Config {
	return Config{
		ServerURL:                "http://localhost:8080",
		HeartbeatIntervalSeconds: 60,
		IdleThresholdSeconds:     300,
		LogLevel:                 "info",
		RetryMaxAttempts:         5,
		RetryBaseDelaySeconds:    10,
		OfflineQueueMax:          100,
	}
}

// Load resolves configuration in priority order: defaults, then the file at
// path (if it exists), then process environment variables. path may be
// empty, in which case only defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file yet — defaults stand until the first successful
			// registration writes one.
		default:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEET_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := envInt("FLEET_HEARTBEAT_INTERVAL_SECONDS"); v != 0 {
		cfg.HeartbeatIntervalSeconds = v
	}
	if v := envInt("FLEET_IDLE_THRESHOLD_SECONDS"); v != 0 {
		cfg.IdleThresholdSeconds = v
	}
	if v := os.Getenv("FLEET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envInt("FLEET_RETRY_MAX_ATTEMPTS"); v != 0 {
		cfg.RetryMaxAttempts = v
	}
	if v := envInt("FLEET_RETRY_BASE_DELAY_SECONDS"); v != 0 {
		cfg.RetryBaseDelaySeconds = v
	}
	if v := envInt("FLEET_OFFLINE_QUEUE_MAX"); v != 0 {
		cfg.OfflineQueueMax = v
	}
	if v := os.Getenv("FLEET_AGENT_TOKEN"); v != "" {
		cfg.AgentToken = v
	}
	if v := os.Getenv("FLEET_MACHINE_ID"); v != "" {
		cfg.MachineID = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}

// SaveCredentials persists AgentToken and MachineID back to the config file
// atomically (temp file + rename), so a restart skips re-registration. A
// no-op if Load was given an empty path.
func (c *Config) SaveCredentials(token, machineID string) error {
	c.AgentToken = token
	c.MachineID = machineID

	if c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config.*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}
	ok = true
	return nil
}
