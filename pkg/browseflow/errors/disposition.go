// Package errors decides what a workflow should do about a failed planner
// call or browser action: try it again, ask the user, or give up.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/llm"
)

// Disposition is what to do about a failure.
type Disposition int

const (
	// GiveUp means repeating the step cannot help: a malformed plan, an
	// unknown action, a page that does not exist.
	GiveUp Disposition = iota

	// Retry means the same step may succeed if repeated: a rate limit, a
	// gateway error, a deadline.
	Retry

	// AskUser means the workflow cannot continue without the user, for
	// example a login wall.
	AskUser
)

func (d Disposition) String() string {
	switch d {
	case GiveUp:
		return "give_up"
	case Retry:
		return "retry"
	case AskUser:
		return "ask_user"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Decided is an error whose disposition has already been settled, either
// explicitly with Mark or by Do once it stopped retrying.
type Decided struct {
	Err         error
	Disposition Disposition
	// Op names the step that failed.
	Op string
	// Attempts is how many times the step ran.
	Attempts int
}

func (e *Decided) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *Decided) Unwrap() error { return e.Err }

// Mark attaches d to err. Mark(nil, ...) is nil.
func Mark(err error, d Disposition, op string) error {
	if err == nil {
		return nil
	}
	return &Decided{Err: err, Disposition: d, Op: op}
}

// Classify returns the disposition for err. Unknown errors give up.
func Classify(err error) Disposition {
	if err == nil {
		return GiveUp
	}

	var decided *Decided
	if errors.As(err, &decided) {
		return decided.Disposition
	}
	var uie *UserInputError
	if errors.As(err, &uie) {
		return AskUser
	}
	var pfe *browseflow.PlanFormatError
	if errors.As(err, &pfe) {
		return GiveUp
	}
	if llm.IsRetryable(err) {
		return Retry
	}
	var pe *PageError
	if errors.As(err, &pe) {
		return pe.Disposition()
	}
	var te *ActionTimeoutError
	if errors.As(err, &te) {
		return Retry
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retry
	}
	return GiveUp
}

// Retryable reports whether err is worth repeating.
func Retryable(err error) bool { return Classify(err) == Retry }

// NeedsUser reports whether err can only be resolved by the user.
func NeedsUser(err error) bool { return Classify(err) == AskUser }
