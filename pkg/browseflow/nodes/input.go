package nodes

import (
	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// DefaultInputType is requested when the scratch state names none.
const DefaultInputType = "text"

// InputRequestExecutor suspends the workflow for user input.
//
// Reads: input_prompt, input_type, input_options, input_metadata. The
// prompt may reference scratch keys as ${key}.
type InputRequestExecutor struct{}

// Prompt implements browseflow.Prompter.
func (InputRequestExecutor) Prompt(node browseflow.Node, scratch browseflow.Scratch) message.InputRequest {
	prompt := scratch.String(browseflow.KeyInputPrompt, "")
	if prompt == "" {
		prompt = node.InputPrompt
	}
	if prompt == "" {
		prompt = browseflow.DefaultInputPrompt
	}

	req := message.InputRequest{
		Prompt:    expand(prompt, scratch),
		InputType: scratch.String(browseflow.KeyInputType, DefaultInputType),
		Options:   scratch.StringSlice(browseflow.KeyInputOptions, nil),
		Metadata:  scratch.Map(browseflow.KeyInputMetadata),
	}
	if node.InputTimeout > 0 {
		req.Timeout = int(node.InputTimeout.Seconds())
	}
	return req
}

// Execute implements browseflow.Executor. It is reached only for input
// nodes that do not set RequiresInput; it suspends and leaves the scratch
// state unchanged.
func (e InputRequestExecutor) Execute(ctx browseflow.Context, scratch browseflow.Scratch, ws *browseflow.WorkflowState) (browseflow.Scratch, error) {
	ws.Suspend(ctx.NodeID(), e.Prompt(browseflow.Node{ID: ctx.NodeID()}, scratch))
	return nil, nil
}
