package browseflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// recordingSink collects emitted messages.
type recordingSink struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (s *recordingSink) Emit(_ context.Context, m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) types() []message.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Type, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (s *recordingSink) ofType(t message.Type) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// makeTrackingExecutor records which nodes ran and returns update.
func makeTrackingExecutor(tracker *[]string, update Scratch) Executor {
	return ExecutorFunc(func(ctx Context, s Scratch, _ *WorkflowState) (Scratch, error) {
		*tracker = append(*tracker, ctx.NodeID())
		return update, nil
	})
}

// makeFailingExecutor returns err.
func makeFailingExecutor(err error) Executor {
	return ExecutorFunc(func(Context, Scratch, *WorkflowState) (Scratch, error) {
		return nil, err
	})
}

// makePanicExecutor panics with value.
func makePanicExecutor(value any) Executor {
	return ExecutorFunc(func(Context, Scratch, *WorkflowState) (Scratch, error) {
		panic(value)
	})
}

// standardTopology builds the planning/dispatch/validation/input loop.
func standardTopology(t *testing.T) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.AddNode(Node{ID: "planning_node", Name: "Planning Actions", Type: NodePlanning}))
	require.NoError(t, g.AddNode(Node{ID: "browser_action_node", Name: "Executing Browser Actions", Type: NodeActionDispatch}))
	require.NoError(t, g.AddNode(Node{ID: "validation_node", Name: "Validating Actions", Type: NodeValidation}))
	require.NoError(t, g.AddNode(Node{ID: "user_input_node", Name: "Requesting User Input", Type: NodeInputRequest, RequiresInput: true}))
	require.NoError(t, g.AddEdge(Edge{Source: "planning_node", Target: "browser_action_node"}))
	require.NoError(t, g.AddEdge(Edge{Source: "browser_action_node", Target: "validation_node"}))
	require.NoError(t, g.AddEdge(Edge{Source: "validation_node", Target: "planning_node", Guard: Flag(KeyNeedsRetry)}))
	require.NoError(t, g.AddEdge(Edge{Source: "validation_node", Target: "user_input_node", Guard: Flag(KeyNeedsUserInput)}))
	require.NoError(t, g.AddEdge(Edge{Source: "user_input_node", Target: "planning_node"}))
	require.NoError(t, g.SetEntry("planning_node"))

	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

// testCtx returns a context wired to a recording sink.
func testCtx(sink EventSink) Context {
	return NewContext(context.Background(),
		WithWorkflowID("wf-test"),
		WithSessionID("session-test"),
		WithEventSink(sink),
	)
}
