package errors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// PageError is a page load that answered with an HTTP error status.
type PageError struct {
	URL    string
	Status int
}

func (e *PageError) Error() string {
	return fmt.Sprintf("navigate %s: HTTP %d", e.URL, e.Status)
}

// Code implements message.Coder.
func (e *PageError) Code() message.Code { return message.CodeActionError }

// Disposition maps the status: auth walls need the user, throttling and
// gateway errors are retried, everything else gives up.
func (e *PageError) Disposition() Disposition {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
		return AskUser
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Retry
	}
	return GiveUp
}

// ActionTimeoutError is a browser action that outlived its deadline.
type ActionTimeoutError struct {
	Action string
	After  time.Duration
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Action, e.After)
}

// Code implements message.Coder.
func (e *ActionTimeoutError) Code() message.Code { return message.CodeActionError }

// UserInputError stops a step until the user answers Prompt.
type UserInputError struct {
	Prompt  string
	Options []string
	Err     error
}

func (e *UserInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("user input required: %s: %v", e.Prompt, e.Err)
	}
	return "user input required: " + e.Prompt
}

func (e *UserInputError) Unwrap() error { return e.Err }
