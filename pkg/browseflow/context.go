package browseflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Context provides execution context to executors.
// It extends context.Context with workflow identity, a logger and the event sink.
//
// Context is immutable after creation. The engine derives a context per node
// with NodeID set and an enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with workflow and node context.
	// Never returns nil.
	Logger() *slog.Logger

	// WorkflowID returns the workflow instance being run.
	WorkflowID() string

	// SessionID returns the browser session the workflow drives.
	SessionID() string

	// NodeID returns the node being executed, or "" outside a node.
	NodeID() string

	// Emit publishes msg to the event sink. Failures are logged, not returned.
	Emit(msg message.Message)
}

type executionContext struct {
	context.Context

	logger     *slog.Logger
	sink       EventSink
	workflowID string
	sessionID  string
	nodeID     string
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) WorkflowID() string   { return c.workflowID }
func (c *executionContext) SessionID() string    { return c.sessionID }
func (c *executionContext) NodeID() string       { return c.nodeID }

func (c *executionContext) Emit(msg message.Message) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Emit(c.Context, msg); err != nil {
		c.logger.Warn("event sink rejected message",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventSink sets where executors and the engine publish messages.
func WithEventSink(sink EventSink) ContextOption {
	return func(c *executionContext) {
		c.sink = sink
	}
}

// WithWorkflowID sets the workflow id. A UUID is generated when unset.
func WithWorkflowID(id string) ContextOption {
	return func(c *executionContext) {
		c.workflowID = id
	}
}

// WithSessionID sets the session id.
func WithSessionID(id string) ContextOption {
	return func(c *executionContext) {
		c.sessionID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := browseflow.NewContext(context.Background(),
//	    browseflow.WithLogger(logger),
//	    browseflow.WithWorkflowID("wf-123"),
//	    browseflow.WithSessionID("tab-1"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	if ec.workflowID == "" {
		ec.workflowID = uuid.NewString()
	}
	return ec
}

// withNodeID returns a derived context for one node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context:    c.Context,
		logger:     c.logger.With("workflow_id", c.workflowID, "session_id", c.sessionID, "node_id", nodeID),
		sink:       c.sink,
		workflowID: c.workflowID,
		sessionID:  c.sessionID,
		nodeID:     nodeID,
	}
}

// withStd swaps the underlying context, keeping identity and services.
func (c *executionContext) withStd(std context.Context) *executionContext {
	out := *c
	out.Context = std
	return &out
}

// asExecutionContext adapts any Context to the internal implementation.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:    ctx,
		logger:     ctx.Logger(),
		sink:       EventSinkFunc(func(_ context.Context, m message.Message) error { ctx.Emit(m); return nil }),
		workflowID: ctx.WorkflowID(),
		sessionID:  ctx.SessionID(),
		nodeID:     ctx.NodeID(),
	}
}
