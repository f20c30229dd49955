package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/browseflow/internal/config"
	"github.com/randalmurphal/browseflow/internal/httpbrowser"
	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/llm"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/observability"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
	"github.com/randalmurphal/browseflow/pkg/browseflow/workflow"
)

// app is the wired set of components shared by serve and run.
type app struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	sessions *session.Registry
	browser  *httpbrowser.Browser
	manager  *workflow.Manager

	closers []func(context.Context) error
}

func newApp(cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.browser = httpbrowser.New(
		httpbrowser.WithTimeout(cfg.Browser.Timeout),
		httpbrowser.WithUserAgent(cfg.Browser.UserAgent),
		httpbrowser.WithLogger(logger),
	)
	a.sessions = session.NewRegistry(a.browser.Factory(),
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(a.registry)),
	)
	a.closers = append(a.closers, a.sessions.Shutdown)

	executors, err := nodes.NewExecutors(nodes.Config{
		Planner:         newPlanner(cfg.Planner, logger),
		Sessions:        a.sessions,
		Actions:         a.browser,
		ActionTimeout:   cfg.Workflow.ActionTimeout,
		MaxRetries:      cfg.Workflow.MaxRetries,
		EscalateBlocked: cfg.Workflow.EscalateBlocked,
	})
	if err != nil {
		return nil, err
	}

	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMaxIterations(cfg.Workflow.MaxIterations),
		workflow.WithInputTimeout(cfg.Workflow.InputTimeout),
	}
	if cfg.Workflow.Definition != "" {
		def, err := workflow.LoadDefinition(cfg.Workflow.Definition)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithDefinition(def))
	}

	store, err := a.openStore(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, workflow.WithCheckpointStore(store))
	}
	opts = append(opts, workflow.WithRunOptions(a.telemetry(cfg.Telemetry)...))

	a.manager, err = workflow.NewManager(executors, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newPlanner returns the configured planner. The claude backend prompts
// the Claude CLI; rules plans simple imperative goals locally.
func newPlanner(cfg config.PlannerConfig, logger *slog.Logger) nodes.Planner {
	if cfg.Backend != "claude" {
		return nodes.RulePlanner{}
	}
	client := llm.NewClaudeCLI(
		llm.WithClaudePath(cfg.ClaudePath),
		llm.WithModel(cfg.Model),
		llm.WithTimeout(cfg.Timeout),
	)
	return nodes.NewLLMPlanner(client,
		nodes.WithPlannerRetry(bferrors.DefaultPolicy.WithAttempts(cfg.MaxRetries)),
		nodes.WithPlannerLogger(logger),
	)
}

// openStore opens the checkpoint backend. The memory backend keeps
// checkpoints only for the life of the process.
func (a *app) openStore(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	var store checkpoint.Store
	switch cfg.Backend {
	case "sqlite":
		s, err := checkpoint.NewSQLiteStore(cfg.Path, checkpoint.WithRetention(cfg.TTL))
		if err != nil {
			return nil, err
		}
		store = s
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store = checkpoint.NewRedisStore(client, checkpoint.WithTTL(cfg.TTL))
	default:
		store = checkpoint.NewMemoryStore(checkpoint.WithRunLimit(cfg.Keep))
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.logger.Info("checkpoint store ready", slog.String("backend", cfg.Backend))
	return store, nil
}

// telemetry builds the engine's metrics and tracing options on SDK
// providers owned by the app.
func (a *app) telemetry(cfg config.TelemetryConfig) []browseflow.RunOption {
	var opts []browseflow.RunOption
	if cfg.Metrics {
		mp := sdkmetric.NewMeterProvider()
		a.closers = append(a.closers, mp.Shutdown)
		rec, err := observability.NewMetricsRecorderFor(mp)
		if err != nil {
			a.logger.Warn("metrics disabled", slog.String("error", err.Error()))
		} else {
			opts = append(opts, browseflow.WithMetricsRecorder(rec))
		}
	}
	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider()
		a.closers = append(a.closers, tp.Shutdown)
		opts = append(opts, browseflow.WithSpanManager(observability.NewSpanManagerFor(tp)))
	}
	return opts
}

// Close releases everything newApp opened, most recent first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
