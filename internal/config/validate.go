package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks cfg and reports all problems at once.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", cfg.Server.Port, "must be between 0 and 65535")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.Log.Level) {
		add("log.level", cfg.Log.Level, "must be debug, info, warn or error")
	}
	if !slices.Contains([]string{"auto", "text", "json"}, cfg.Log.Format) {
		add("log.format", cfg.Log.Format, "must be auto, text or json")
	}

	switch cfg.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if cfg.Checkpoint.Path == "" {
			add("checkpoint.path", cfg.Checkpoint.Path, "required for the sqlite backend")
		}
	case "redis":
		if cfg.Checkpoint.RedisAddr == "" {
			add("checkpoint.redis_addr", cfg.Checkpoint.RedisAddr, "required for the redis backend")
		}
	default:
		add("checkpoint.backend", cfg.Checkpoint.Backend, "must be memory, sqlite or redis")
	}
	if cfg.Checkpoint.Keep < 0 {
		add("checkpoint.keep", cfg.Checkpoint.Keep, "must not be negative")
	}
	if cfg.Checkpoint.TTL < 0 {
		add("checkpoint.ttl", cfg.Checkpoint.TTL, "must not be negative")
	}

	if !slices.Contains([]string{"claude", "rules"}, cfg.Planner.Backend) {
		add("planner.backend", cfg.Planner.Backend, "must be claude or rules")
	}
	if cfg.Planner.Backend == "claude" && cfg.Planner.ClaudePath == "" {
		add("planner.claude_path", cfg.Planner.ClaudePath, "required for the claude backend")
	}

	if cfg.Workflow.MaxIterations < 1 {
		add("workflow.max_iterations", cfg.Workflow.MaxIterations, "must be at least 1")
	}
	if cfg.Workflow.InputTimeout < 0 {
		add("workflow.input_timeout", cfg.Workflow.InputTimeout, "must not be negative")
	}
	if cfg.Workflow.ActionTimeout < 0 {
		add("workflow.action_timeout", cfg.Workflow.ActionTimeout, "must not be negative")
	}
	if cfg.Workflow.MaxRetries < 0 {
		add("workflow.max_retries", cfg.Workflow.MaxRetries, "must not be negative")
	}
	if cfg.Browser.Timeout < 0 {
		add("browser.timeout", cfg.Browser.Timeout, "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
