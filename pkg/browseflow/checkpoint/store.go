// Package checkpoint persists workflow snapshots so a run can be recovered
// after a restart.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by (workflowID, nodeID).
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint for a workflow at a node, overwriting any
	// previous checkpoint for the same pair and giving it the next sequence.
	Save(ctx context.Context, workflowID, nodeID string, data []byte) error

	// Load retrieves a checkpoint. Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, workflowID, nodeID string) ([]byte, error)

	// List returns all checkpoints for a workflow ordered by sequence.
	// Returns an empty slice (not error) if there are none.
	List(ctx context.Context, workflowID string) ([]Info, error)

	// Delete removes a specific checkpoint. Missing checkpoints are not an error.
	Delete(ctx context.Context, workflowID, nodeID string) error

	// DeleteRun removes all checkpoints for a workflow.
	DeleteRun(ctx context.Context, workflowID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the full snapshot.
type Info struct {
	WorkflowID string
	NodeID     string
	Sequence   int
	Timestamp  time.Time
	Size       int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// LoadLatest returns the checkpoint with the highest sequence for a workflow.
func LoadLatest(ctx context.Context, store Store, workflowID string) (*Checkpoint, error) {
	infos, err := store.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}
	last := infos[len(infos)-1]
	data, err := store.Load(ctx, workflowID, last.NodeID)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
