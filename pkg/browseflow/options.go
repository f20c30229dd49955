package browseflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
	"github.com/randalmurphal/browseflow/pkg/browseflow/observability"
)

// StateObserver is called by the engine, on the run's goroutine, at every
// node boundary and when the run halts. Scratch and state must not be
// retained without copying.
type StateObserver func(nodeID string, scratch Scratch, ws *WorkflowState)

type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	checkpointFailureFatal bool
	sequence               int

	logger         *slog.Logger
	log            observability.RunLog
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	observer StateObserver
	now      func() time.Time
}

func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		metrics:       observability.Disabled{},
		spans:         observability.Disabled{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node visits per run.
// Default: 1000
//
// A planning/validation retry loop that never succeeds stops here with a
// *MaxIterationsError.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing saves a snapshot after every successful node.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithCheckpointFailureFatal makes a failed checkpoint save halt the run.
// By default failures are logged and the run continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithSequence continues checkpoint and step numbering from a previous run.
func WithSequence(seq int) RunOption {
	return func(c *runConfig) {
		c.sequence = seq
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics records OTel metrics through the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.Disabled{}
		}
	}
}

// WithMetricsRecorder records metrics through a specific recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing creates OTel spans for the run and every node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.Disabled{}
		}
	}
}

// WithSpanManager traces through a specific span manager.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm != nil {
			c.spans = sm
			c.tracingEnabled = true
		}
	}
}

// WithStateObserver registers a callback run at node boundaries.
func WithStateObserver(fn StateObserver) RunOption {
	return func(c *runConfig) {
		c.observer = fn
	}
}

// WithClock overrides the time source used for step timestamps.
func WithClock(now func() time.Time) RunOption {
	return func(c *runConfig) {
		if now != nil {
			c.now = now
		}
	}
}
