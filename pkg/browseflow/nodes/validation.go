package nodes

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
)

// RetryStrategySimple replans the failed actions as they were.
const RetryStrategySimple = "simple_retry"

// Escalation decides when failed actions go to the user instead of back to
// planning. The zero value never escalates: every failure is replanned.
type Escalation struct {
	// MaxRetries caps consecutive failed rounds; 0 or less means no cap.
	MaxRetries int
	// Blocked sends failures classified ask_user straight to the user.
	Blocked bool
}

// ValidationExecutor checks the dispatch results. It makes no external
// calls.
//
// Reads: action_results, retry_count. Writes: validation_success,
// failed_actions, needs_retry, retry_strategy, retry_count and, when the
// escalation rules fire, needs_user_input and input_prompt.
type ValidationExecutor struct {
	escalation Escalation
}

// NewValidationExecutor creates a validation executor.
func NewValidationExecutor(esc Escalation) *ValidationExecutor {
	return &ValidationExecutor{escalation: esc}
}

// Execute implements browseflow.Executor.
func (e *ValidationExecutor) Execute(_ browseflow.Context, scratch browseflow.Scratch, _ *browseflow.WorkflowState) (browseflow.Scratch, error) {
	results, err := ActionResults(scratch)
	if err != nil {
		return nil, err
	}
	return Validate(results, scratch.Int(browseflow.KeyRetryCount, 0), e.escalation), nil
}

// Validate reduces dispatch results to the validation update.
func Validate(results []ActionResult, retryCount int, esc Escalation) browseflow.Scratch {
	var failed, blocked []ActionResult
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
		if r.blocked() {
			blocked = append(blocked, r)
		}
	}

	if len(failed) == 0 {
		return browseflow.Scratch{
			browseflow.KeyValidationSuccess: true,
			browseflow.KeyFailedActions:     []any{},
			browseflow.KeyNeedsRetry:        false,
			browseflow.KeyRetryCount:        0,
		}
	}

	retryCount++
	update := browseflow.Scratch{
		browseflow.KeyValidationSuccess: false,
		browseflow.KeyFailedActions:     toScratch(failed),
		browseflow.KeyRetryCount:        retryCount,
	}
	switch {
	case esc.Blocked && len(blocked) > 0:
		return askUser(update, fmt.Sprintf("I need your help to continue (%s). How should I proceed?", reasons(blocked)))
	case esc.MaxRetries > 0 && retryCount > esc.MaxRetries:
		return askUser(update, fmt.Sprintf("Actions still failing after %d retries (%s). How should I proceed?",
			esc.MaxRetries, reasons(failed)))
	}
	update[browseflow.KeyNeedsRetry] = true
	update[browseflow.KeyRetryStrategy] = RetryStrategySimple
	return update
}

func askUser(update browseflow.Scratch, prompt string) browseflow.Scratch {
	update[browseflow.KeyNeedsRetry] = false
	update[browseflow.KeyNeedsUserInput] = true
	update[browseflow.KeyInputPrompt] = prompt
	update[browseflow.KeyRetryCount] = 0
	return update
}

func reasons(failed []ActionResult) string {
	out := make([]string, 0, len(failed))
	for _, f := range failed {
		out = append(out, fmt.Sprintf("%s: %s", f.Action.Type, f.Error))
	}
	return strings.Join(out, "; ")
}
