package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
	"github.com/randalmurphal/browseflow/pkg/browseflow/workflow"
)

func noop(update browseflow.Scratch) browseflow.Executor {
	return browseflow.ExecutorFunc(func(browseflow.Context, browseflow.Scratch, *browseflow.WorkflowState) (browseflow.Scratch, error) {
		return update, nil
	})
}

// newEngine binds no-op executors to the standard topology. Validation
// asks for a retry until retries have happened.
func newEngine(b *testing.B, retries int) *browseflow.Engine {
	b.Helper()
	ex := browseflow.NewExecutors()
	_ = ex.Register(browseflow.NodePlanning, noop(browseflow.Scratch{browseflow.KeyPlannedActions: []any{}}))
	_ = ex.Register(browseflow.NodeActionDispatch, noop(browseflow.Scratch{browseflow.KeyActionResults: []any{}}))
	_ = ex.Register(browseflow.NodeInputRequest, noop(nil))
	_ = ex.Register(browseflow.NodeValidation, browseflow.ExecutorFunc(
		func(_ browseflow.Context, s browseflow.Scratch, _ *browseflow.WorkflowState) (browseflow.Scratch, error) {
			n := s.Int(browseflow.KeyRetryCount, 0)
			retry := n < retries
			return browseflow.Scratch{browseflow.KeyNeedsRetry: retry, browseflow.KeyRetryCount: n + 1}, nil
		}))

	e, err := browseflow.NewEngine(mustBuild(b, workflow.StandardDefinition()), ex)
	if err != nil {
		b.Fatal(err)
	}
	return e
}

// BenchmarkEngine_Run_SinglePass runs planning, dispatch and validation once.
func BenchmarkEngine_Run_SinglePass(b *testing.B) {
	benchmarkEngine(b, 0)
}

// BenchmarkEngine_Run_RetryLoop_3 runs the retry loop three extra times.
func BenchmarkEngine_Run_RetryLoop_3(b *testing.B) {
	benchmarkEngine(b, 3)
}

// BenchmarkEngine_Run_RetryLoop_30 runs the retry loop thirty extra times.
func BenchmarkEngine_Run_RetryLoop_30(b *testing.B) {
	benchmarkEngine(b, 30)
}

func benchmarkEngine(b *testing.B, retries int) {
	e := newEngine(b, retries)
	ctx := browseflow.NewContext(context.Background())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ws := browseflow.NewWorkflowState("bench")
		res, err := e.Run(ctx, "", browseflow.Scratch{browseflow.KeyGoal: "bench"}, ws)
		if err != nil || res.Outcome != browseflow.OutcomeCompleted {
			b.Fatalf("run: %v %s", err, res.Outcome)
		}
	}
}

// BenchmarkContextCreation measures context creation overhead.
func BenchmarkContextCreation(b *testing.B) {
	bg := context.Background()
	for i := 0; i < b.N; i++ {
		browseflow.NewContext(bg, browseflow.WithSessionID("bench"))
	}
}

type page struct{}

func (page) Close(context.Context) error { return nil }

// BenchmarkManager_Execute measures a full workflow through the manager
// with the rule planner and a no-op page driver.
func BenchmarkManager_Execute(b *testing.B) {
	actions := nodes.ActionExecutorFunc(func(_ context.Context, _ session.Handle, a nodes.Action) nodes.ActionResult {
		return nodes.ActionResult{Action: a, Success: true}
	})
	sessions := session.NewRegistry(func(context.Context, string) (session.Handle, error) { return page{}, nil })
	ex, err := nodes.NewExecutors(nodes.Config{Planner: nodes.RulePlanner{}, Sessions: sessions, Actions: actions})
	if err != nil {
		b.Fatal(err)
	}
	m, err := workflow.NewManager(ex)
	if err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := m.Create(ctx, "bench", "open example.com then click #a then scroll", nil)
		if _, err := m.Execute(ctx, id, nil); err != nil {
			b.Fatal(err)
		}
		m.Cleanup(ctx, id)
	}
}
