package nodes

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Error handler names.
const (
	HandlerRecordError  = "record_error"
	HandlerRequestInput = "request_input"
	HandlerTriage       = "triage"
)

// RecordError stores the failure in scratch so a later resume or the
// client can see it.
func RecordError(ctx browseflow.Context, err error, _ browseflow.Scratch) browseflow.Scratch {
	return browseflow.Scratch{
		browseflow.KeyError:     err.Error(),
		browseflow.KeyErrorNode: ctx.NodeID(),
		browseflow.KeyErrorCode: string(message.CodeOf(err)),
	}
}

// RequestInput records the failure and flags that the user should be asked
// how to continue on the next run. A *UserInputError supplies its own
// question.
func RequestInput(ctx browseflow.Context, err error, scratch browseflow.Scratch) browseflow.Scratch {
	update := RecordError(ctx, err, scratch)
	update[browseflow.KeyNeedsUserInput] = true

	var uie *bferrors.UserInputError
	if errors.As(err, &uie) {
		update[browseflow.KeyInputPrompt] = uie.Prompt
		if len(uie.Options) > 0 {
			update[browseflow.KeyInputType] = "choice"
			update[browseflow.KeyInputOptions] = toScratch(uie.Options)
		}
		return update
	}
	update[browseflow.KeyInputPrompt] = fmt.Sprintf("Step %s failed: %v. How should I proceed?", ctx.NodeID(), err)
	return update
}

// Triage routes a failure by its disposition: failures only the user can
// resolve ask for input, the rest are recorded.
func Triage(ctx browseflow.Context, err error, scratch browseflow.Scratch) browseflow.Scratch {
	if bferrors.NeedsUser(err) {
		return RequestInput(ctx, err, scratch)
	}
	update := RecordError(ctx, err, scratch)
	update[browseflow.KeyErrorDisposition] = bferrors.Classify(err).String()
	return update
}
