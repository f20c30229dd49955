package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
)

// DefaultActionTimeout bounds one action when neither the action nor the
// executor sets a timeout.
const DefaultActionTimeout = 30 * time.Second

// DispatchExecutor runs the planned actions in order, each under the
// session lock. Every action is attempted; failures are reported per action.
//
// Reads: planned_actions. Writes: action_results, last_action_timestamp,
// browser_state.
type DispatchExecutor struct {
	sessions *session.Registry
	actions  ActionExecutor
	timeout  time.Duration
	now      func() time.Time
}

// DispatchOption configures a DispatchExecutor.
type DispatchOption func(*DispatchExecutor)

// WithActionTimeout sets the default per-action timeout.
func WithActionTimeout(d time.Duration) DispatchOption {
	return func(e *DispatchExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewDispatchExecutor creates an action-dispatch executor.
func NewDispatchExecutor(sessions *session.Registry, actions ActionExecutor, opts ...DispatchOption) *DispatchExecutor {
	e := &DispatchExecutor{
		sessions: sessions,
		timeout:  DefaultActionTimeout,
		now:      time.Now,
	}
	if actions != nil {
		e.actions = Recovering(actions)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements browseflow.Executor.
func (e *DispatchExecutor) Execute(ctx browseflow.Context, scratch browseflow.Scratch, _ *browseflow.WorkflowState) (browseflow.Scratch, error) {
	if e.sessions == nil || e.actions == nil {
		return nil, errors.New("action dispatch requires a session registry and an action executor")
	}
	planned, err := PlannedActions(scratch)
	if err != nil {
		return nil, err
	}

	browserState := scratch.Map(browseflow.KeyBrowserState)
	if browserState == nil {
		browserState = map[string]any{}
	}

	results := make([]ActionResult, 0, len(planned))
	for _, a := range planned {
		res := e.dispatch(ctx, a)
		results = append(results, res)

		ctx.Emit(message.NewBrowserAction(ctx.SessionID(), message.BrowserActionResponse{
			Success:     res.Success,
			Action:      string(a.Type),
			Result:      res.Result,
			Error:       res.Error,
			Disposition: res.Disposition,
			Timestamp:   e.now().UTC(),
		}))
		if res.Success {
			for _, k := range []string{"url", "title"} {
				if v, ok := res.Result[k]; ok {
					browserState[k] = v
				}
			}
		}
		browserState["last_action"] = toScratch(a)
	}

	return browseflow.Scratch{
		browseflow.KeyActionResults:       toScratch(results),
		browseflow.KeyLastActionTimestamp: e.now().UTC().Format(time.RFC3339Nano),
		browseflow.KeyBrowserState:        browserState,
	}, nil
}

// dispatch runs one action under the session lock.
func (e *DispatchExecutor) dispatch(ctx browseflow.Context, a Action) ActionResult {
	if !a.Type.Valid() {
		return Failed(a, "unknown action type %q", a.Type)
	}

	timeout := e.timeout
	if secs := a.Number("timeout", 0); secs > 0 {
		d := time.Duration(secs * float64(time.Second))
		if a.Type == ActionWait {
			// a wait's timeout is its length, not its deadline
			timeout += d
		} else {
			timeout = d
		}
	}

	var res ActionResult
	err := e.sessions.WithSession(ctx, ctx.SessionID(), func(sctx context.Context, h session.Handle) error {
		actx, cancel := context.WithTimeout(sctx, timeout)
		defer cancel()
		res = e.actions.Execute(actx, h, a)
		return nil
	})
	if err != nil {
		return FailedWith(a, err)
	}
	res.Action = a
	return res
}
