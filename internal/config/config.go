// Package config loads browseflow configuration from defaults, a YAML file,
// BROWSEFLOW_* environment variables and command-line flags.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP and websocket listener.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	EnableCORS  bool     `mapstructure:"enable_cors"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CheckpointConfig selects where workflow checkpoints are kept.
type CheckpointConfig struct {
	// Backend is memory, sqlite or redis.
	Backend   string        `mapstructure:"backend"`
	Path      string        `mapstructure:"path"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
	// Keep bounds the memory backend's checkpoints per workflow; zero keeps all.
	Keep int `mapstructure:"keep"`
}

// PlannerConfig selects how actions are planned.
type PlannerConfig struct {
	// Backend is claude or rules.
	Backend    string        `mapstructure:"backend"`
	Model      string        `mapstructure:"model"`
	ClaudePath string        `mapstructure:"claude_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	InputTimeout  time.Duration `mapstructure:"input_timeout"`
	// Definition is an optional YAML topology file.
	Definition    string        `mapstructure:"definition"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`

	// MaxRetries of 0 replans failures indefinitely, bounded only by
	// MaxIterations.
	MaxRetries      int  `mapstructure:"max_retries"`
	EscalateBlocked bool `mapstructure:"escalate_blocked"`
}

// BrowserConfig configures the HTTP page driver.
type BrowserConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// TelemetryConfig toggles engine metrics and tracing.
type TelemetryConfig struct {
	Metrics bool `mapstructure:"metrics"`
	Tracing bool `mapstructure:"tracing"`
}
