package session

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// ErrSessionNotFound is matched by both NotFoundError and ClosedError.
var ErrSessionNotFound = errors.New("session not found")

// NotFoundError reports a session id the registry has never seen.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

func (e *NotFoundError) Unwrap() error { return ErrSessionNotFound }

// Code implements message.Coder.
func (e *NotFoundError) Code() message.Code { return message.CodeSessionNotFound }

// ClosedError reports use of a session after Close.
type ClosedError struct {
	SessionID string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("session %q is closed", e.SessionID)
}

func (e *ClosedError) Unwrap() error { return ErrSessionNotFound }

// Code implements message.Coder.
func (e *ClosedError) Code() message.Code { return message.CodeSessionNotFound }

// HandleError wraps a failure creating or closing a session handle.
type HandleError struct {
	SessionID string
	Err       error
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("session %q handle: %v", e.SessionID, e.Err)
}

func (e *HandleError) Unwrap() error { return e.Err }

// Code implements message.Coder.
func (e *HandleError) Code() message.Code { return message.CodeActionError }
