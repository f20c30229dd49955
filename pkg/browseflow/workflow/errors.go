package workflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// ErrWorkflowNotFound is matched by NotFoundError.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrWorkflowExists is returned by Recover for an id that is already live.
var ErrWorkflowExists = errors.New("workflow already exists")

// NotFoundError reports an unknown workflow id.
type NotFoundError struct {
	WorkflowID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found", e.WorkflowID)
}

func (e *NotFoundError) Unwrap() error { return ErrWorkflowNotFound }

// Code implements message.Coder.
func (e *NotFoundError) Code() message.Code { return message.CodeWorkflowNotFound }

// InputTimeoutError is recorded when a suspended workflow gets no input in
// time.
type InputTimeoutError struct {
	WorkflowID string
	NodeID     string
	Timeout    string
}

func (e *InputTimeoutError) Error() string {
	return fmt.Sprintf("workflow %s: no input for %s within %s", e.WorkflowID, e.NodeID, e.Timeout)
}

// Code implements message.Coder.
func (e *InputTimeoutError) Code() message.Code { return message.CodeInputTimeout }
