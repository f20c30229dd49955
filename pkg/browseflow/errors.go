package browseflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrNodeNotFound indicates a reference to a node that was never added.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode indicates two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrInvalidNode indicates a node failed validation when added.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidGuard indicates an edge guard could not be compiled.
	ErrInvalidGuard = errors.New("invalid guard")
)

// Sentinel errors for execution.
var (
	// ErrMaxIterations indicates the execution loop exceeded the configured limit.
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilState indicates Run() was called without a workflow state.
	ErrNilState = errors.New("workflow state cannot be nil")

	// ErrNoExecutor indicates a node type has no registered executor.
	ErrNoExecutor = errors.New("no executor registered")

	// ErrNoErrorHandler indicates a node names an error handler that is not registered.
	ErrNoErrorHandler = errors.New("no error handler registered")

	// ErrInvalidTransition indicates an illegal step status change.
	ErrInvalidTransition = errors.New("invalid step transition")
)

// DuplicateNodeError reports a second node with an existing id.
type DuplicateNodeError struct {
	NodeID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node ID: %s", e.NodeID)
}

func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

// UnknownNodeError reports an edge endpoint or entry that names no node.
type UnknownNodeError struct {
	NodeID string
	// Role is where the id was referenced: "source", "target", "entry" or "start".
	Role string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s references unknown node: %s", e.Role, e.NodeID)
}

func (e *UnknownNodeError) Unwrap() error { return ErrNodeNotFound }

// Code implements message.Coder.
func (e *UnknownNodeError) Code() message.Code { return message.CodeStateError }

// GuardError reports an edge guard that failed to compile.
type GuardError struct {
	Source string
	Target string
	Err    error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard on edge %s -> %s: %v", e.Source, e.Target, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	// NodeID is the node where checkpointing failed.
	NodeID string
	// Op is the operation that failed ("save", "load", "serialize").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an executor failure with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "execute").
	Op string
	// Err is the underlying error from the executor.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// Code reports the code of the wrapped error, or NODE_ERROR.
func (e *NodeError) Code() message.Code {
	var c message.Coder
	if errors.As(e.Err, &c) {
		return c.Code()
	}
	return message.CodeNodeError
}

// PanicError captures panic information from node execution.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// Code implements message.Coder.
func (e *PanicError) Code() message.Code { return message.CodeNodeError }

// CancellationError reports a run stopped at a node boundary because its context ended.
type CancellationError struct {
	// NodeID is the node that was about to execute.
	NodeID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// Code implements message.Coder.
func (e *CancellationError) Code() message.Code { return message.CodeStateError }

// MaxIterationsError indicates the run loop exceeded the iteration limit.
type MaxIterationsError struct {
	// Max is the configured limit.
	Max int
	// LastNodeID is the node that would have executed next.
	LastNodeID string
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded max iterations (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxIterations for errors.Is support.
func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// Code implements message.Coder.
func (e *MaxIterationsError) Code() message.Code { return message.CodeStateError }

// PlanFormatError reports a planner response that is not a list of actions
// plus a rationale.
type PlanFormatError struct {
	Reason string
	// Raw is the offending response, truncated.
	Raw string
	Err error
}

func (e *PlanFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid planning result format: %s: %v", e.Reason, e.Err)
	}
	return "invalid planning result format: " + e.Reason
}

func (e *PlanFormatError) Unwrap() error { return e.Err }

// Code implements message.Coder.
func (e *PlanFormatError) Code() message.Code { return message.CodePlanFormatError }

// InvalidTransitionError reports an illegal step status change.
type InvalidTransitionError struct {
	StepID string
	From   StepStatus
	To     StepStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("step %s: cannot move from %s to %s", e.StepID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Code implements message.Coder.
func (e *InvalidTransitionError) Code() message.Code { return message.CodeStateError }
