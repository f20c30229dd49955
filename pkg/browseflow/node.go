package browseflow

import (
	"fmt"
	"strings"
	"time"
)

// NodeType selects the executor that runs a node. The set is closed.
type NodeType string

// Node types.
const (
	NodePlanning       NodeType = "planning"
	NodeActionDispatch NodeType = "action_dispatch"
	NodeValidation     NodeType = "validation"
	NodeInputRequest   NodeType = "input_request"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodePlanning, NodeActionDispatch, NodeValidation, NodeInputRequest:
		return true
	}
	return false
}

// Node is a step in a workflow graph. Nodes are plain data; behavior comes
// from the Executor registered for Type.
type Node struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
	Type NodeType `json:"type" yaml:"type"`

	// RequiresInput suspends the run on arrival, before the executor runs.
	RequiresInput bool `json:"requires_input,omitempty" yaml:"requires_input,omitempty"`
	// InputPrompt is shown to the user when the node suspends.
	InputPrompt string `json:"input_prompt,omitempty" yaml:"input_prompt,omitempty"`
	// InputTimeout fails a suspended run when no input arrives in time. Zero waits forever.
	InputTimeout time.Duration `json:"input_timeout,omitempty" yaml:"input_timeout,omitempty"`

	// OnError names a registered error handler run when the executor fails.
	OnError string `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

func (n Node) validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty node ID", ErrInvalidNode)
	}
	if strings.ContainsAny(n.ID, " \t\n") {
		return fmt.Errorf("%w: node ID %q contains whitespace", ErrInvalidNode, n.ID)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: node %s has unknown type %q", ErrInvalidNode, n.ID, n.Type)
	}
	if n.InputTimeout < 0 {
		return fmt.Errorf("%w: node %s has negative input timeout", ErrInvalidNode, n.ID)
	}
	return nil
}

// DisplayName returns Name, or the id when no name is set.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}
