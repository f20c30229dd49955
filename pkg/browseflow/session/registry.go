// Package session keeps one lock and one lazily created resource handle per
// browser session, so actions against the same session run one at a time
// while different sessions proceed in parallel.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Handle is the per-session resource, typically a browser page or tab.
type Handle interface {
	Close(ctx context.Context) error
}

// Factory creates the handle for a session the first time it is acquired.
type Factory func(ctx context.Context, sessionID string) (Handle, error)

// Lock is a session's mutual-exclusion lock. Waiters are granted the lock in
// arrival order and may give up through their context.
type Lock struct {
	sem *semaphore.Weighted
}

// Lock blocks until the lock is held or ctx ends.
func (l *Lock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryLock acquires the lock only if it is free.
func (l *Lock) TryLock() bool {
	return l.sem.TryAcquire(1)
}

// Unlock releases the lock.
func (l *Lock) Unlock() {
	l.sem.Release(1)
}

// Closed ids are remembered for DefaultClosedTTL, and at most
// DefaultMaxClosed of them, before they may be opened again.
const (
	DefaultClosedTTL = 24 * time.Hour
	DefaultMaxClosed = 10000
)

type entry struct {
	id        string
	lock      *Lock
	handle    Handle
	createdAt time.Time
}

// Registry maps session ids to their lock and handle.
// It is safe for concurrent use.
type Registry struct {
	factory Factory
	logger  *slog.Logger
	metrics *Metrics

	closedTTL time.Duration
	maxClosed int

	mu          sync.Mutex
	sessions    map[string]*entry
	closed      map[string]time.Time
	closedOrder []string // oldest first

	creating singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records session metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClosedRetention bounds how long and how many closed ids are refused.
// Non-positive values keep the defaults.
func WithClosedRetention(ttl time.Duration, limit int) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.closedTTL = ttl
		}
		if limit > 0 {
			r.maxClosed = limit
		}
	}
}

// NewRegistry creates a registry that builds handles with factory.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:   factory,
		logger:    slog.Default(),
		closedTTL: DefaultClosedTTL,
		maxClosed: DefaultMaxClosed,
		sessions:  make(map[string]*entry),
		closed:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the session's lock and handle, creating both on first use.
// The handle factory runs at most once per session even when many callers
// race on a new id. The lock is returned unlocked.
//
// A closed session id stays closed until it ages out of the closed set:
// Acquire fails with *ClosedError.
func (r *Registry) Acquire(ctx context.Context, sessionID string) (*Lock, Handle, error) {
	if sessionID == "" {
		return nil, nil, &NotFoundError{SessionID: sessionID}
	}

	r.mu.Lock()
	if r.isClosed(sessionID) {
		r.mu.Unlock()
		return nil, nil, &ClosedError{SessionID: sessionID}
	}
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &entry{
			id:        sessionID,
			lock:      &Lock{sem: semaphore.NewWeighted(1)},
			createdAt: time.Now().UTC(),
		}
		r.sessions[sessionID] = e
		r.metrics.sessionOpened()
	}
	if e.handle != nil {
		h := e.handle
		r.mu.Unlock()
		return e.lock, h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.creating.Do(sessionID, func() (any, error) {
		r.mu.Lock()
		if e.handle != nil {
			h := e.handle
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		h, err := r.factory(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			r.metrics.handleCreated(false)
			return nil, &HandleError{SessionID: sessionID, Err: err}
		}
		r.metrics.handleCreated(true)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.sessions[sessionID] != e {
			// closed while the handle was being created
			go func() { _ = h.Close(context.Background()) }()
			return nil, &ClosedError{SessionID: sessionID}
		}
		e.handle = h
		r.logger.Debug("session handle created", slog.String("session_id", sessionID))
		return h, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return e.lock, v.(Handle), nil
}

// WithSession runs fn while holding the session's lock. The lock is released
// when fn returns, including on error or panic.
func (r *Registry) WithSession(ctx context.Context, sessionID string, fn func(ctx context.Context, h Handle) error) error {
	lock, h, err := r.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}

	waitStart := time.Now()
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer lock.Unlock()
	r.metrics.lockWaited(time.Since(waitStart))

	r.mu.Lock()
	closed := r.isClosed(sessionID)
	r.mu.Unlock()
	if closed {
		return &ClosedError{SessionID: sessionID}
	}

	err = fn(ctx, h)
	r.metrics.actionDone(err == nil)
	return err
}

// Close waits for in-flight work on the session, closes its handle and
// removes it. The id cannot be acquired again afterwards.
func (r *Registry) Close(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return &NotFoundError{SessionID: sessionID}
	}

	if err := e.lock.Lock(ctx); err != nil {
		return fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer e.lock.Unlock()

	r.mu.Lock()
	if r.sessions[sessionID] != e {
		r.mu.Unlock()
		return &NotFoundError{SessionID: sessionID}
	}
	delete(r.sessions, sessionID)
	r.markClosed(sessionID, time.Now().UTC())
	h := e.handle
	e.handle = nil
	r.mu.Unlock()

	r.metrics.sessionClosed()
	r.logger.Debug("session closed", slog.String("session_id", sessionID))

	if h != nil {
		if err := h.Close(ctx); err != nil {
			return &HandleError{SessionID: sessionID, Err: err}
		}
	}
	return nil
}

// isClosed reports whether id is in the closed set. r.mu must be held.
func (r *Registry) isClosed(id string) bool {
	at, ok := r.closed[id]
	return ok && time.Since(at) < r.closedTTL
}

// markClosed adds id to the closed set and drops expired or excess ids.
// r.mu must be held.
func (r *Registry) markClosed(id string, now time.Time) {
	if _, ok := r.closed[id]; ok {
		r.closedOrder = slices.DeleteFunc(r.closedOrder, func(s string) bool { return s == id })
	}
	r.closedOrder = append(r.closedOrder, id)
	r.closed[id] = now

	drop := 0
	for _, old := range r.closedOrder {
		if len(r.closedOrder)-drop <= r.maxClosed && now.Sub(r.closed[old]) < r.closedTTL {
			break
		}
		delete(r.closed, old)
		drop++
	}
	r.closedOrder = r.closedOrder[drop:]
}

// Shutdown closes every open session.
func (r *Registry) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, id := range r.Sessions() {
		if err := r.Close(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Has reports whether the session is open.
func (r *Registry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Sessions returns the open session ids, sorted.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
