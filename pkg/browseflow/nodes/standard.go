package nodes

import (
	"errors"
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
)

// Config holds the collaborators of the standard executors.
type Config struct {
	Planner  Planner
	Sessions *session.Registry
	Actions  ActionExecutor

	// ActionTimeout defaults to DefaultActionTimeout.
	ActionTimeout time.Duration
	// MaxRetries caps consecutive failed rounds before asking the user;
	// 0 means failures are always replanned.
	MaxRetries int
	// EscalateBlocked asks the user as soon as a failure is classified
	// ask_user instead of replanning it.
	EscalateBlocked bool
}

// NewExecutors registers the four standard executors and the built-in
// error handlers.
func NewExecutors(cfg Config) (*browseflow.Executors, error) {
	if cfg.Planner == nil {
		return nil, errors.New("nodes: planner is required")
	}
	if cfg.Sessions == nil || cfg.Actions == nil {
		return nil, errors.New("nodes: session registry and action executor are required")
	}
	ex := browseflow.NewExecutors()
	err := errors.Join(
		ex.Register(browseflow.NodePlanning, NewPlanningExecutor(cfg.Planner)),
		ex.Register(browseflow.NodeActionDispatch, NewDispatchExecutor(cfg.Sessions, cfg.Actions, WithActionTimeout(cfg.ActionTimeout))),
		ex.Register(browseflow.NodeValidation, NewValidationExecutor(Escalation{MaxRetries: cfg.MaxRetries, Blocked: cfg.EscalateBlocked})),
		ex.Register(browseflow.NodeInputRequest, InputRequestExecutor{}),
		ex.RegisterErrorHandler(HandlerRecordError, RecordError),
		ex.RegisterErrorHandler(HandlerRequestInput, RequestInput),
		ex.RegisterErrorHandler(HandlerTriage, Triage),
	)
	if err != nil {
		return nil, err
	}
	return ex, nil
}
