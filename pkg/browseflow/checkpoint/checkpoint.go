package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
const Version = 1

// Checkpoint is a persisted workflow snapshot taken after a node finished.
type Checkpoint struct {
	Version    int       `json:"version"`
	WorkflowID string    `json:"workflow_id"`
	SessionID  string    `json:"session_id"`
	NodeID     string    `json:"node_id"`
	Sequence   int       `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`

	// Scratch is the JSON scratch state after the node's update was merged.
	Scratch json.RawMessage `json:"scratch"`
	// Workflow is the JSON workflow state.
	Workflow json.RawMessage `json:"workflow"`
	// NextNode is where a recovered run resumes; empty means the run had completed.
	NextNode string `json:"next_node"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint and checks its version.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Version != Version {
		return nil, fmt.Errorf("checkpoint version %d, want %d", c.Version, Version)
	}
	return &c, nil
}

// New creates a checkpoint. scratch and workflow must already be JSON.
func New(workflowID, sessionID, nodeID string, sequence int, scratch, workflow []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:    Version,
		WorkflowID: workflowID,
		SessionID:  sessionID,
		NodeID:     nodeID,
		Sequence:   sequence,
		Timestamp:  time.Now().UTC(),
		Scratch:    scratch,
		Workflow:   workflow,
		NextNode:   nextNode,
	}
}
