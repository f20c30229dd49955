package browseflow

import (
	"context"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// EventSink receives messages produced while a workflow runs.
// A sink may be called from several goroutines; implementations serialize
// delivery per destination themselves.
type EventSink interface {
	Emit(ctx context.Context, msg message.Message) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, msg message.Message) error

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

// DiscardSink drops every message.
var DiscardSink EventSink = EventSinkFunc(func(context.Context, message.Message) error { return nil })
