// Package config provides configuration for the coordinator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the coordinator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Node directory
	DatabaseURL string

	// Capability policy; empty means the built-in default policy.
	PolicyFile string

	// Fleet timings
	HeartbeatInterval time.Duration // expected agent emission cadence
	HeartbeatTimeout  time.Duration // eviction threshold, must exceed interval
	CommandTimeout    time.Duration // per-command deadline
	MaxAgents         int           // admission bound, 0 = unbounded

	// WebSocket settings
	AuthTimeout    time.Duration // budget for the registration frame
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// Logging
	LogLevel string
}

// fileConfig is the TOML shape of the optional config file. Durations are
// whole seconds to match the recognized option names.
type fileConfig struct {
	HTTPPort           int    `toml:"http_port"`
	DatabaseURL        string `toml:"database_url"`
	PolicyFile         string `toml:"policy_file"`
	HeartbeatIntervalS int    `toml:"heartbeat_interval_s"`
	HeartbeatTimeoutS  int    `toml:"heartbeat_timeout_s"`
	CommandTimeoutS    int    `toml:"command_timeout_s"`
	MaxAgents          int    `toml:"max_agents"`
	LogLevel           string `toml:"log_level"`
}

// Load builds the configuration from defaults, then the optional TOML file
// named by CONFIG_FILE, then environment variables. Environment wins.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:          8080,
		DatabaseURL:       "file:coordinator.db?cache=shared&mode=rwc",
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  45 * time.Second,
		CommandTimeout:    30 * time.Second,
		MaxAgents:         0,
		AuthTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    65536,
		SendBuffer:        256,
		LogLevel:          "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if fc.HTTPPort != 0 {
		cfg.HTTPPort = fc.HTTPPort
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.PolicyFile != "" {
		cfg.PolicyFile = fc.PolicyFile
	}
	if fc.HeartbeatIntervalS != 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalS) * time.Second
	}
	if fc.HeartbeatTimeoutS != 0 {
		cfg.HeartbeatTimeout = time.Duration(fc.HeartbeatTimeoutS) * time.Second
	}
	if fc.CommandTimeoutS != 0 {
		cfg.CommandTimeout = time.Duration(fc.CommandTimeoutS) * time.Second
	}
	if fc.MaxAgents != 0 {
		cfg.MaxAgents = fc.MaxAgents
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.PolicyFile = getEnv("POLICY_FILE", cfg.PolicyFile)
	cfg.HeartbeatInterval = getEnvSeconds("HEARTBEAT_INTERVAL_S", cfg.HeartbeatInterval)
	cfg.HeartbeatTimeout = getEnvSeconds("HEARTBEAT_TIMEOUT_S", cfg.HeartbeatTimeout)
	cfg.CommandTimeout = getEnvSeconds("COMMAND_TIMEOUT_S", cfg.CommandTimeout)
	cfg.MaxAgents = getEnvInt("MAX_AGENTS", cfg.MaxAgents)
	cfg.AuthTimeout = time.Duration(getEnvInt("WS_AUTH_TIMEOUT_MS", int(cfg.AuthTimeout/time.Millisecond))) * time.Millisecond
	cfg.WriteTimeout = time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", int(cfg.WriteTimeout/time.Millisecond))) * time.Millisecond
	cfg.PingInterval = time.Duration(getEnvInt("WS_PING_INTERVAL_MS", int(cfg.PingInterval/time.Millisecond))) * time.Millisecond
	cfg.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.SendBuffer = getEnvInt("WS_SEND_BUFFER", cfg.SendBuffer)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout (%s) must exceed interval (%s)", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %s", c.CommandTimeout)
	}
	if c.MaxAgents < 0 {
		return fmt.Errorf("max agents must not be negative, got %d", c.MaxAgents)
	}
	return nil
}

// HeartbeatSweepInterval derives the monitor cadence from the timeout so
// eviction lands within one sweep of the deadline.
func (c *Config) HeartbeatSweepInterval() time.Duration {
	interval := c.HeartbeatTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return time.Duration(intVal) * time.Second
		}
	}
	return defaultVal
}
