package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BROWSEFLOW_SERVER_PORT.
const EnvPrefix = "BROWSEFLOW"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// that cobra flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources and validates it.
// Precedence (highest to lowest):
// 1. Flags bound with BindPFlag
// 2. Environment variables (BROWSEFLOW_*)
// 3. Config file (browseflow.yaml in the working directory unless set)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	SetDefaults(l.v)

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("browseflow")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.path", "browseflow.db")
	v.SetDefault("checkpoint.redis_addr", "localhost:6379")
	v.SetDefault("checkpoint.ttl", "24h")
	v.SetDefault("checkpoint.keep", 32)

	v.SetDefault("planner.backend", "rules")
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.claude_path", "claude")
	v.SetDefault("planner.timeout", "2m")
	v.SetDefault("planner.max_retries", 3)

	v.SetDefault("workflow.max_iterations", 1000)
	v.SetDefault("workflow.input_timeout", "0s")
	v.SetDefault("workflow.definition", "")
	v.SetDefault("workflow.action_timeout", "30s")
	v.SetDefault("workflow.max_retries", 0)
	v.SetDefault("workflow.escalate_blocked", false)

	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.user_agent", "browseflow/1.0")

	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.tracing", false)
}
