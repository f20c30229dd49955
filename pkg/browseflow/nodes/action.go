package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
)

// ActionType names a browser action.
type ActionType string

// Browser actions.
const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
	ActionScroll     ActionType = "scroll"
	ActionSelect     ActionType = "select"
)

// Valid reports whether t is a known action.
func (t ActionType) Valid() bool {
	switch t {
	case ActionNavigate, ActionClick, ActionTypeText, ActionWait, ActionScreenshot, ActionScroll, ActionSelect:
		return true
	}
	return false
}

// Action is one planned browser action.
type Action struct {
	Type      ActionType     `json:"action_type"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Param returns a string parameter, or "" if absent.
func (a Action) Param(key string) string {
	if v, ok := a.Params[key].(string); ok {
		return v
	}
	return ""
}

// Number returns a numeric parameter that may arrive as a JSON number or as
// a string, or def if absent or malformed.
func (a Action) Number(key string, def float64) float64 {
	switch v := a.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Action  Action         `json:"action"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	// Disposition is set on failures whose cause was classified.
	Disposition string `json:"disposition,omitempty"`
}

// Failed builds a failed result.
func Failed(a Action, format string, args ...any) ActionResult {
	return ActionResult{Action: a, Error: fmt.Sprintf(format, args...)}
}

// FailedWith builds a failed result from err and records what should be
// done about it.
func FailedWith(a Action, err error) ActionResult {
	return ActionResult{Action: a, Error: err.Error(), Disposition: bferrors.Classify(err).String()}
}

// blocked reports whether the failure can only be resolved by the user.
func (r ActionResult) blocked() bool {
	return !r.Success && r.Disposition == bferrors.AskUser.String()
}

// ActionExecutor performs actions against a session's handle. It is only
// called while the session lock is held. Failures are reported in the
// result, never as a panic or an error return.
type ActionExecutor interface {
	Execute(ctx context.Context, h session.Handle, a Action) ActionResult
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, h session.Handle, a Action) ActionResult

// Execute implements ActionExecutor.
func (f ActionExecutorFunc) Execute(ctx context.Context, h session.Handle, a Action) ActionResult {
	return f(ctx, h, a)
}

// Recovering wraps ae so that a panicking driver yields a failed result and
// every failure carries an error message.
func Recovering(ae ActionExecutor) ActionExecutor {
	return ActionExecutorFunc(func(ctx context.Context, h session.Handle, a Action) (res ActionResult) {
		defer func() {
			if r := recover(); r != nil {
				res = Failed(a, "action panicked: %v", r)
			}
		}()
		res = ae.Execute(ctx, h, a)
		if !res.Success && res.Error == "" {
			res.Error = fmt.Sprintf("%s failed", a.Type)
		}
		return res
	})
}

// toScratch converts v to the JSON-shaped form kept in scratch state so that
// cloning and checkpointing see plain maps and slices.
func toScratch(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// PlannedActions reads the planned actions from scratch.
func PlannedActions(s browseflow.Scratch) ([]Action, error) {
	var actions []Action
	if _, err := s.Decode(browseflow.KeyPlannedActions, &actions); err != nil {
		return nil, fmt.Errorf("read %s: %w", browseflow.KeyPlannedActions, err)
	}
	return actions, nil
}

// ActionResults reads the dispatch results from scratch.
func ActionResults(s browseflow.Scratch) ([]ActionResult, error) {
	var results []ActionResult
	if _, err := s.Decode(browseflow.KeyActionResults, &results); err != nil {
		return nil, fmt.Errorf("read %s: %w", browseflow.KeyActionResults, err)
	}
	return results, nil
}
