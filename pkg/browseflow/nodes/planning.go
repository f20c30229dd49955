package nodes

import (
	"errors"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// DefaultGoal is planned for when the scratch state has no goal.
const DefaultGoal = "Complete the task"

// PlanningExecutor asks a Planner for the next actions.
//
// Reads: goal, browser_state, user_input, failed_actions (when retrying).
// Writes: planned_actions, thought_process, needs_user_input and, when the
// plan asks for help, input_prompt.
type PlanningExecutor struct {
	planner Planner
}

// NewPlanningExecutor creates a planning executor.
func NewPlanningExecutor(p Planner) *PlanningExecutor {
	return &PlanningExecutor{planner: p}
}

// Execute implements browseflow.Executor.
func (e *PlanningExecutor) Execute(ctx browseflow.Context, scratch browseflow.Scratch, _ *browseflow.WorkflowState) (browseflow.Scratch, error) {
	if e.planner == nil {
		return nil, errors.New("no planner configured")
	}

	req := PlanRequest{
		Goal:         scratch.String(browseflow.KeyGoal, DefaultGoal),
		Scratch:      scratch,
		BrowserState: scratch.Map(browseflow.KeyBrowserState),
		UserInput:    scratch.Map(browseflow.KeyUserInput),
	}
	if scratch.Bool(browseflow.KeyNeedsRetry, false) {
		if _, err := scratch.Decode(browseflow.KeyFailedActions, &req.FailedActions); err != nil {
			ctx.Logger().Warn("ignoring unreadable failed_actions", "error", err)
		}
	}

	plan, err := e.planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	steps := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		steps = append(steps, string(a.Type))
	}
	ctx.Emit(message.NewAgentThought(ctx.SessionID(), message.AgentThought{
		Thought:   "Planned next actions",
		Reasoning: plan.ThoughtProcess,
		Plan:      steps,
		NodeID:    ctx.NodeID(),
	}))

	update := browseflow.Scratch{
		browseflow.KeyPlannedActions: toScratch(plan.Actions),
		browseflow.KeyThoughtProcess: plan.ThoughtProcess,
		browseflow.KeyNeedsUserInput: plan.NeedsInput,
	}
	if plan.NeedsInput && plan.InputPrompt != "" {
		update[browseflow.KeyInputPrompt] = plan.InputPrompt
	}
	return update, nil
}
