package checkpoint

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. They are lost when the
// process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	limit  int
	closed bool
}

// memoryRun holds one workflow's checkpoints. seq only grows, so a node
// saved again after a delete still sorts last.
type memoryRun struct {
	seq   int
	nodes map[string]memoryEntry
}

type memoryEntry struct {
	info Info
	data []byte
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRunLimit keeps at most n checkpoints per workflow, evicting the
// oldest first. Zero keeps everything.
func WithRunLimit(n int) MemoryOption {
	return func(m *MemoryStore) { m.limit = n }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{runs: make(map[string]*memoryRun)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, workflowID, nodeID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	r, ok := m.runs[workflowID]
	if !ok {
		r = &memoryRun{nodes: make(map[string]memoryEntry)}
		m.runs[workflowID] = r
	}
	r.seq++
	r.nodes[nodeID] = memoryEntry{
		info: Info{
			WorkflowID: workflowID,
			NodeID:     nodeID,
			Sequence:   r.seq,
			Timestamp:  time.Now().UTC(),
			Size:       int64(len(data)),
		},
		data: bytes.Clone(data),
	}
	if m.limit > 0 {
		for len(r.nodes) > m.limit {
			delete(r.nodes, r.oldest())
		}
	}
	return nil
}

func (r *memoryRun) oldest() string {
	var id string
	low := 0
	for nodeID, e := range r.nodes {
		if low == 0 || e.info.Sequence < low {
			id, low = nodeID, e.info.Sequence
		}
	}
	return id
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, workflowID, nodeID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	r, ok := m.runs[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := r.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.data), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, workflowID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := []Info{}
	if r, ok := m.runs[workflowID]; ok {
		for _, e := range r.nodes {
			infos = append(infos, e.info)
		}
	}
	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, workflowID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if r, ok := m.runs[workflowID]; ok {
		delete(r.nodes, nodeID)
	}
	return nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.runs, workflowID)
	return nil
}

// Close implements Store. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the number of checkpoints held across all workflows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.runs {
		n += len(r.nodes)
	}
	return n
}
