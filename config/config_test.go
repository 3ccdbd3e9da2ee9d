package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected port: %d", cfg.HTTPPort)
	}
	if cfg.HeartbeatInterval != 15*time.Second || cfg.HeartbeatTimeout != 45*time.Second {
		t.Fatalf("unexpected heartbeat defaults: %s / %s", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	}
	if cfg.CommandTimeout != 30*time.Second {
		t.Fatalf("unexpected command timeout: %s", cfg.CommandTimeout)
	}
	if cfg.MaxAgents != 0 {
		t.Fatalf("expected unbounded agents by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL_S", "5")
	t.Setenv("HEARTBEAT_TIMEOUT_S", "20")
	t.Setenv("COMMAND_TIMEOUT_S", "7")
	t.Setenv("MAX_AGENTS", "50")
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 20*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.HeartbeatTimeout)
	}
	if cfg.CommandTimeout != 7*time.Second {
		t.Fatalf("unexpected command timeout: %s", cfg.CommandTimeout)
	}
	if cfg.MaxAgents != 50 {
		t.Fatalf("unexpected max agents: %d", cfg.MaxAgents)
	}
	if cfg.HTTPPort != 9999 {
		t.Fatalf("unexpected port: %d", cfg.HTTPPort)
	}
}

func TestLoadTomlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.toml")
	content := `
http_port = 9001
heartbeat_interval_s = 10
heartbeat_timeout_s = 30
command_timeout_s = 60
max_agents = 25
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9001 || cfg.MaxAgents != 25 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 10*time.Second || cfg.CommandTimeout != 60*time.Second {
		t.Fatalf("file durations not applied: %+v", cfg)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.toml")
	if err := os.WriteFile(path, []byte("http_port = 9001\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 7777 {
		t.Fatalf("expected env to win, got %d", cfg.HTTPPort)
	}
}

func TestValidateRejectsTimeoutBelowInterval(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL_S", "30")
	t.Setenv("HEARTBEAT_TIMEOUT_S", "10")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation failure when timeout <= interval")
	}
}

func TestHeartbeatSweepInterval(t *testing.T) {
	cfg := &Config{HeartbeatTimeout: 40 * time.Second}
	if got := cfg.HeartbeatSweepInterval(); got != 10*time.Second {
		t.Fatalf("unexpected sweep interval: %s", got)
	}

	cfg.HeartbeatTimeout = 2 * time.Second
	if got := cfg.HeartbeatSweepInterval(); got != time.Second {
		t.Fatalf("expected floor of 1s, got %s", got)
	}
}
