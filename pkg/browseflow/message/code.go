package message

import (
	"context"
	"errors"
)

// Code classifies an error message for clients.
type Code string

// Error codes.
const (
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeActionError      Code = "ACTION_ERROR"
	CodeStateError       Code = "STATE_ERROR"
	CodeWorkflowNotFound Code = "WORKFLOW_NOT_FOUND"
	CodePlanFormatError  Code = "PLAN_FORMAT_ERROR"
	CodeNodeError        Code = "NODE_ERROR"
	CodeInputTimeout     Code = "INPUT_TIMEOUT"
	CodeInvalidMessage   Code = "INVALID_MESSAGE"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// Coder is implemented by errors that map to a specific Code.
type Coder interface {
	Code() Code
}

// CodeOf returns the code of the first error in err's chain that implements
// Coder. Context expiry maps to STATE_ERROR; anything else is INTERNAL_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeStateError
	}
	return CodeInternalError
}
