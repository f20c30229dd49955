package workflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
)

// Option configures a Manager.
type Option func(*Manager)

// WithDefinition replaces the standard topology.
func WithDefinition(d Definition) Option {
	return func(m *Manager) {
		m.def = d
	}
}

// WithCheckpointStore persists progress after every node so that
// workflows can be recovered with Recover.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogger sets the manager logger. It is also handed to node contexts.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxIterations bounds the nodes executed by one run.
func WithMaxIterations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxIterations = n
		}
	}
}

// WithInputTimeout fails suspended workflows that receive no input within
// d. A node's own InputTimeout takes precedence. Zero waits forever.
func WithInputTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.inputTimeout = d
	}
}

// WithRunOptions adds engine options to every run, for example
// browseflow.WithMetrics(true) or browseflow.WithTracing(true).
func WithRunOptions(opts ...browseflow.RunOption) Option {
	return func(m *Manager) {
		m.runOpts = append(m.runOpts, opts...)
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
