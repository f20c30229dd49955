package browseflow

import (
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// WorkflowStatus is the coarse lifecycle state of a workflow instance.
type WorkflowStatus string

// Workflow statuses.
const (
	StatusCreated   WorkflowStatus = "created"
	StatusRunning   WorkflowStatus = "running"
	StatusSuspended WorkflowStatus = "suspended"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
)

// WorkflowState is the engine-visible progress of one workflow instance.
//
// RequiresInput is true exactly when InputPrompt and PendingInput are set:
// Suspend and ClearSuspension are the only ways to change the three fields.
type WorkflowState struct {
	SessionID      string         `json:"session_id"`
	Status         WorkflowStatus `json:"status"`
	CurrentStep    *Step          `json:"current_step,omitempty"`
	CompletedSteps []Step         `json:"completed_steps"`

	RequiresInput bool                  `json:"requires_input"`
	InputPrompt   *string               `json:"input_prompt"`
	PendingInput  *message.InputRequest `json:"pending_input,omitempty"`
	// SuspendedAt is the node the run is parked on.
	SuspendedAt string `json:"suspended_at,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState returns a state in the created status.
func NewWorkflowState(sessionID string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SessionID:      sessionID,
		Status:         StatusCreated,
		CompletedSteps: []Step{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Suspend parks the workflow on nodeID waiting for req.
func (w *WorkflowState) Suspend(nodeID string, req message.InputRequest) {
	if req.Prompt == "" {
		req.Prompt = DefaultInputPrompt
	}
	if req.InputType == "" {
		req.InputType = "text"
	}
	prompt := req.Prompt
	w.RequiresInput = true
	w.InputPrompt = &prompt
	w.PendingInput = &req
	w.SuspendedAt = nodeID
	w.Status = StatusSuspended
	w.touch()
}

// ClearSuspension removes any pending input request.
func (w *WorkflowState) ClearSuspension() {
	w.RequiresInput = false
	w.InputPrompt = nil
	w.PendingInput = nil
	w.SuspendedAt = ""
	w.touch()
}

// SetStatus updates Status and the modification time.
func (w *WorkflowState) SetStatus(s WorkflowStatus) {
	w.Status = s
	w.touch()
}

// Clone returns a deep copy safe to hand to other goroutines.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}
	out := *w
	if w.CurrentStep != nil {
		st := *w.CurrentStep
		out.CurrentStep = &st
	}
	out.CompletedSteps = append([]Step(nil), w.CompletedSteps...)
	if w.InputPrompt != nil {
		p := *w.InputPrompt
		out.InputPrompt = &p
	}
	if w.PendingInput != nil {
		req := *w.PendingInput
		req.Options = append([]string(nil), req.Options...)
		if req.Metadata != nil {
			req.Metadata = map[string]any(Scratch(req.Metadata).Clone())
		}
		out.PendingInput = &req
	}
	return &out
}

func (w *WorkflowState) touch() {
	w.UpdatedAt = time.Now().UTC()
}

// recordStep appends a finished step and clears CurrentStep.
func (w *WorkflowState) recordStep(s *Step) {
	w.CompletedSteps = append(w.CompletedSteps, *s)
	w.CurrentStep = nil
	w.touch()
}
