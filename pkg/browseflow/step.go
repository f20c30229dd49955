package browseflow

import (
	"fmt"
	"time"
)

// StepStatus is the lifecycle state of a Step.
type StepStatus string

// Step statuses. A step moves pending -> processing -> completed|error.
const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepError
}

// Step records one node execution.
type Step struct {
	ID          string     `json:"id"`
	NodeID      string     `json:"node_id"`
	Content     string     `json:"content"`
	Status      StepStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewStep creates a pending step. seq keeps ids unique within a run even when
// two steps start in the same clock tick.
func NewStep(node Node, now time.Time, seq int) *Step {
	return &Step{
		ID:        fmt.Sprintf("%s_%d_%d", node.ID, now.UnixNano(), seq),
		NodeID:    node.ID,
		Content:   node.DisplayName(),
		Status:    StepPending,
		CreatedAt: now,
	}
}

// Start moves a pending step to processing.
func (s *Step) Start() error {
	if s.Status != StepPending {
		return &InvalidTransitionError{StepID: s.ID, From: s.Status, To: StepProcessing}
	}
	s.Status = StepProcessing
	return nil
}

// Complete moves a processing step to completed.
func (s *Step) Complete(now time.Time) error {
	return s.finish(StepCompleted, now)
}

// Fail moves a processing step to error.
func (s *Step) Fail(now time.Time) error {
	return s.finish(StepError, now)
}

func (s *Step) finish(to StepStatus, now time.Time) error {
	if s.Status != StepProcessing {
		return &InvalidTransitionError{StepID: s.ID, From: s.Status, To: to}
	}
	s.Status = to
	s.CompletedAt = &now
	return nil
}
