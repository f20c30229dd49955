package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
)

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

func (s *recordingSink) systemEvents(eventType string) int {
	n := 0
	for _, m := range s.ofType(message.TypeSystemEvent) {
		if ev, ok := m.Payload.(message.SystemEvent); ok && ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *recordingSink) errorCodes() []message.Code {
	var codes []message.Code
	for _, m := range s.ofType(message.TypeError) {
		if p, ok := m.Payload.(message.ErrorPayload); ok {
			codes = append(codes, p.Code)
		}
	}
	return codes
}

// pageHandle stands in for a browser page and flags overlapping use.
type pageHandle struct {
	inUse   atomic.Int32
	overlap atomic.Bool
}

func (h *pageHandle) Close(context.Context) error { return nil }

// fakeBrowser fails any action aimed at "#missing".
func fakeBrowser(calls *atomic.Int32) nodes.ActionExecutor {
	return nodes.ActionExecutorFunc(func(_ context.Context, h session.Handle, a nodes.Action) nodes.ActionResult {
		p := h.(*pageHandle)
		if p.inUse.Add(1) > 1 {
			p.overlap.Store(true)
		}
		defer p.inUse.Add(-1)
		calls.Add(1)
		time.Sleep(time.Millisecond)

		switch a.Param("selector") {
		case "#missing":
			return nodes.Failed(a, "no element matches %s", a.Param("selector"))
		case "#login":
			return nodes.FailedWith(a, &bferrors.PageError{URL: "https://example.com/login", Status: 401})
		}
		res := map[string]any{}
		if a.Type == nodes.ActionNavigate {
			res["url"] = a.Param("url")
			res["title"] = "Example Domain"
		}
		return nodes.ActionResult{Success: true, Result: res}
	})
}

type fixture struct {
	manager  *Manager
	sessions *session.Registry
	handle   *pageHandle
	calls    *atomic.Int32
}

// retryCap is the validation retry cap of the default fixture.
const retryCap = 3

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newFixtureWith(t, nodes.Config{MaxRetries: retryCap}, opts...)
}

func newFixtureWith(t *testing.T, cfg nodes.Config, opts ...Option) *fixture {
	t.Helper()
	h := &pageHandle{}
	calls := &atomic.Int32{}
	sessions := session.NewRegistry(func(context.Context, string) (session.Handle, error) { return h, nil })
	cfg.Planner = nodes.RulePlanner{}
	cfg.Sessions = sessions
	cfg.Actions = fakeBrowser(calls)
	ex, err := nodes.NewExecutors(cfg)
	require.NoError(t, err)
	m, err := NewManager(ex, opts...)
	require.NoError(t, err)
	return &fixture{manager: m, sessions: sessions, handle: h, calls: calls}
}

// TestManager_CreateInitialState tests the state a new workflow starts with.
func TestManager_CreateInitialState(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}

	id := f.manager.Create(context.Background(), "s1", "open example.com", sink)
	require.NotEmpty(t, id)

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, browseflow.StatusCreated, snap.Status)
	assert.Equal(t, "open example.com", snap.Scratch.String(browseflow.KeyGoal, ""))
	assert.NotEmpty(t, snap.Scratch.String(browseflow.KeyStartTime, ""))
	assert.Equal(t, "about:blank", snap.Scratch.Map(browseflow.KeyBrowserState)["url"])
	assert.False(t, snap.State.RequiresInput)
	assert.Empty(t, snap.State.CompletedSteps)
	assert.Equal(t, 1, sink.systemEvents(message.EventWorkflowCreated))

	other := f.manager.Create(context.Background(), "s1", "open example.org", nil)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, f.manager.Len())
}

// TestManager_ExecuteCompletes tests a goal that succeeds on the first pass.
func TestManager_ExecuteCompletes(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "open example.com", sink)

	res, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
	assert.True(t, res.Scratch.Bool(browseflow.KeyValidationSuccess, false))
	assert.Equal(t, 3, res.NodesExecuted)

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, browseflow.StatusCompleted, snap.Status)
	assert.Equal(t, "https://example.com", snap.Scratch.Map(browseflow.KeyBrowserState)["url"])
	require.Len(t, snap.State.CompletedSteps, 3)
	assert.Equal(t, NodePlanning, snap.State.CompletedSteps[0].NodeID)
	assert.Equal(t, NodeValidation, snap.State.CompletedSteps[2].NodeID)

	assert.Len(t, sink.ofType(message.TypeBrowserAction), 1)
	assert.Len(t, sink.ofType(message.TypeWorkflowUpdate), 1)
	assert.Empty(t, sink.ofType(message.TypeError))

	var thoughts []string
	for _, m := range sink.ofType(message.TypeAgentThought) {
		thoughts = append(thoughts, m.Payload.(message.AgentThought).Thought)
	}
	assert.Contains(t, thoughts, "Executing step: Planning Actions")
	assert.Contains(t, thoughts, "Executing step: Validating Actions")
}

// TestManager_ExecuteUnknown tests the error for an unknown workflow id.
func TestManager_ExecuteUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Execute(context.Background(), "nope", nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Equal(t, message.CodeWorkflowNotFound, message.CodeOf(err))

	_, err = f.manager.SubmitInput(context.Background(), "nope", map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = f.manager.Get("nope")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

// TestManager_RetryThenAskUser tests that repeated failures replan up to the
// retry cap and then suspend for input.
func TestManager_RetryThenAskUser(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "open example.com then click #missing", sink)

	res, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeSuspended, res.Outcome)
	assert.Equal(t, NodeUserInput, res.LastNode)
	// one pass plus retryCap replans, three nodes each
	assert.Equal(t, 3*(1+retryCap), res.NodesExecuted)
	assert.False(t, res.Scratch.Bool(browseflow.KeyValidationSuccess, true))
	assert.Equal(t, 0, res.Scratch.Int(browseflow.KeyRetryCount, -1))

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, browseflow.StatusSuspended, snap.Status)
	assert.Equal(t, NodeUserInput, snap.ResumeAt)
	require.True(t, snap.State.RequiresInput)
	require.NotNil(t, snap.State.InputPrompt)
	assert.Contains(t, *snap.State.InputPrompt, "#missing")

	reqs := sink.ofType(message.TypeUserInput)
	require.Len(t, reqs, 1)
	p := reqs[0].Payload.(message.InputRequestPayload)
	assert.Equal(t, id, p.WorkflowID)
	assert.Equal(t, NodeUserInput, p.NodeID)
}

// TestManager_SuspendAndSubmitInput tests the human-in-the-loop round trip.
func TestManager_SuspendAndSubmitInput(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "book a flight", sink)

	res, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	require.Equal(t, browseflow.OutcomeSuspended, res.Outcome)
	assert.Equal(t, int32(0), f.calls.Load())

	// executing again while suspended stays parked on the input node
	res, err = f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeSuspended, res.Outcome)
	assert.Equal(t, 0, res.NodesExecuted)

	res, err = f.manager.SubmitInput(context.Background(), id, map[string]any{"url": "example.com"}, sink)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
	assert.True(t, res.Scratch.Bool(browseflow.KeyInputReceived, false))
	assert.NotEmpty(t, res.Scratch.String(browseflow.KeyInputTimestamp, ""))
	assert.Equal(t, "example.com", res.Scratch.Map(browseflow.KeyUserInput)["url"])
	assert.Equal(t, int32(1), f.calls.Load())

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, browseflow.StatusCompleted, snap.Status)
	assert.False(t, snap.State.RequiresInput)
	assert.Nil(t, snap.State.InputPrompt)
	assert.Nil(t, snap.State.PendingInput)
	// planning re-entered after the input
	last := snap.State.CompletedSteps
	require.GreaterOrEqual(t, len(last), 3)
	assert.Equal(t, NodePlanning, last[len(last)-3].NodeID)
}

// TestManager_SubmitInputWhenNotSuspended tests that input is accepted at any time.
func TestManager_SubmitInputWhenNotSuspended(t *testing.T) {
	f := newFixture(t)
	id := f.manager.Create(context.Background(), "s1", "book a flight", nil)

	res, err := f.manager.SubmitInput(context.Background(), id, map[string]any{"goal": "open example.org"}, nil)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "https://example.org", res.Scratch.Map(browseflow.KeyBrowserState)["url"])
}

// TestManager_CleanupIdempotent tests repeated cleanup.
func TestManager_CleanupIdempotent(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	f := newFixture(t, WithCheckpointStore(store))
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "open example.com", sink)
	_, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	require.Positive(t, store.Len())

	f.manager.Cleanup(context.Background(), id)
	f.manager.Cleanup(context.Background(), id)
	f.manager.Cleanup(context.Background(), "never-existed")

	_, err = f.manager.Get(id)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Equal(t, 0, f.manager.Len())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, sink.systemEvents(message.EventWorkflowCleaned))
}

// TestManager_SameSessionDoesNotInterleave tests that two workflows on one
// session never drive the browser at the same time.
func TestManager_SameSessionDoesNotInterleave(t *testing.T) {
	f := newFixture(t)
	goal := "open example.com then click #a then click #b then scroll"
	a := f.manager.Create(context.Background(), "s1", goal, nil)
	b := f.manager.Create(context.Background(), "s1", goal, nil)

	var wg sync.WaitGroup
	for _, id := range []string{a, b} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.manager.Execute(context.Background(), id, nil)
			assert.NoError(t, err)
			assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
		}(id)
	}
	wg.Wait()

	assert.False(t, f.handle.overlap.Load())
	assert.Equal(t, int32(8), f.calls.Load())
}

// TestManager_ConcurrentExecuteSameWorkflow tests that runs of one workflow
// are serialized.
func TestManager_ConcurrentExecuteSameWorkflow(t *testing.T) {
	f := newFixture(t)
	id := f.manager.Create(context.Background(), "s1", "open example.com", nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Execute(context.Background(), id, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Len(t, snap.State.CompletedSteps, 12)
	assert.Equal(t, int32(4), f.calls.Load())
}

// TestManager_InputTimeout tests that a suspended workflow fails when no
// input arrives in time.
func TestManager_InputTimeout(t *testing.T) {
	f := newFixture(t, WithInputTimeout(20*time.Millisecond))
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "book a flight", sink)

	res, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	require.Equal(t, browseflow.OutcomeSuspended, res.Outcome)

	require.Eventually(t, func() bool {
		snap, err := f.manager.Get(id)
		return err == nil && snap.Status == browseflow.StatusFailed
	}, time.Second, 5*time.Millisecond)

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.False(t, snap.State.RequiresInput)
	assert.Contains(t, snap.State.LastError, "no input")
	assert.Equal(t, string(message.CodeInputTimeout), snap.Scratch.String(browseflow.KeyErrorCode, ""))
	assert.Contains(t, sink.errorCodes(), message.CodeInputTimeout)
	assert.Equal(t, 1, sink.systemEvents(message.EventInputTimeout))
}

// TestManager_InputBeforeTimeout tests that input disarms the timeout.
func TestManager_InputBeforeTimeout(t *testing.T) {
	f := newFixture(t, WithInputTimeout(50*time.Millisecond))
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "book a flight", sink)

	_, err := f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	res, err := f.manager.SubmitInput(context.Background(), id, map[string]any{"url": "example.com"}, sink)
	require.NoError(t, err)
	require.Equal(t, browseflow.OutcomeCompleted, res.Outcome)

	time.Sleep(100 * time.Millisecond)
	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, browseflow.StatusCompleted, snap.Status)
	assert.Zero(t, sink.systemEvents(message.EventInputTimeout))
}

// TestManager_CancelledRun tests a run whose context is already done.
func TestManager_CancelledRun(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	id := f.manager.Create(context.Background(), "s1", "open example.com", sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.manager.Execute(ctx, id, sink)
	require.Error(t, err)
	assert.Equal(t, browseflow.OutcomeFailed, res.Outcome)
	assert.Equal(t, message.CodeStateError, message.CodeOf(err))

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, browseflow.StatusFailed, snap.Status)
	assert.Equal(t, NodePlanning, snap.ResumeAt)

	res, err = f.manager.Execute(context.Background(), id, sink)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
}

// TestManager_Recover tests rebuilding a suspended workflow from checkpoints.
func TestManager_Recover(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	first := newFixture(t, WithCheckpointStore(store))
	id := first.manager.Create(context.Background(), "s1", "book a flight", nil)
	res, err := first.manager.Execute(context.Background(), id, nil)
	require.NoError(t, err)
	require.Equal(t, browseflow.OutcomeSuspended, res.Outcome)

	second := newFixture(t, WithCheckpointStore(store))
	snap, err := second.manager.Recover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, "book a flight", snap.Goal)
	assert.Equal(t, NodeUserInput, snap.ResumeAt)
	assert.Equal(t, browseflow.StatusCreated, snap.Status)

	_, err = second.manager.Recover(context.Background(), id)
	assert.ErrorIs(t, err, ErrWorkflowExists)

	res, err = second.manager.Execute(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeSuspended, res.Outcome)

	res, err = second.manager.SubmitInput(context.Background(), id, map[string]any{"url": "example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeCompleted, res.Outcome)
	assert.Greater(t, res.Sequence, 3)
}

// TestManager_RecoverErrors tests recovery without a store or checkpoints.
func TestManager_RecoverErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Recover(context.Background(), "x")
	assert.Error(t, err)

	withStore := newFixture(t, WithCheckpointStore(checkpoint.NewMemoryStore()))
	_, err = withStore.manager.Recover(context.Background(), "x")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

// TestManager_List tests listing and session filtering.
func TestManager_List(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time { return now.Add(time.Duration(tick.Add(1)) * time.Second) }
	f := newFixture(t, WithClock(clock))

	a := f.manager.Create(context.Background(), "s1", "open a.test", nil)
	b := f.manager.Create(context.Background(), "s2", "open b.test", nil)
	c := f.manager.Create(context.Background(), "s1", "open c.test", nil)

	all := f.manager.List("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{a, b, c}, []string{all[0].WorkflowID, all[1].WorkflowID, all[2].WorkflowID})

	s1 := f.manager.List("s1")
	require.Len(t, s1, 2)
	assert.Equal(t, a, s1[0].WorkflowID)
	assert.Equal(t, c, s1[1].WorkflowID)
}

// TestManager_SnapshotIsolation tests that snapshots are copies.
func TestManager_SnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	id := f.manager.Create(context.Background(), "s1", "open example.com", nil)

	snap, err := f.manager.Get(id)
	require.NoError(t, err)
	snap.Scratch[browseflow.KeyGoal] = "changed"
	snap.Scratch.Map(browseflow.KeyBrowserState)["url"] = "changed"

	again, err := f.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "open example.com", again.Scratch.String(browseflow.KeyGoal, ""))
	assert.Equal(t, "about:blank", again.Scratch.Map(browseflow.KeyBrowserState)["url"])
}

// TestManager_MaxIterations tests that an endless retry loop is stopped.
func TestManager_MaxIterations(t *testing.T) {
	f := newFixtureWith(t, nodes.Config{}, WithMaxIterations(10))

	id := f.manager.Create(context.Background(), "s1", "click #missing", nil)
	res, err := f.manager.Execute(context.Background(), id, nil)
	var mie *browseflow.MaxIterationsError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, browseflow.OutcomeFailed, res.Outcome)
}

// TestManager_DeniedPageReplans tests that a page only the user can get past
// is replanned by default and handed to the user when escalation is enabled.
func TestManager_DeniedPageReplans(t *testing.T) {
	f := newFixtureWith(t, nodes.Config{}, WithMaxIterations(6))
	id := f.manager.Create(context.Background(), "s1", "click #login", nil)
	res, err := f.manager.Execute(context.Background(), id, nil)
	var mie *browseflow.MaxIterationsError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, browseflow.OutcomeFailed, res.Outcome)
	assert.Equal(t, int32(2), f.calls.Load())

	f = newFixtureWith(t, nodes.Config{EscalateBlocked: true}, WithMaxIterations(6))
	id = f.manager.Create(context.Background(), "s1", "click #login", nil)
	res, err = f.manager.Execute(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, browseflow.OutcomeSuspended, res.Outcome)
	assert.Equal(t, NodeUserInput, res.LastNode)
	assert.Equal(t, int32(1), f.calls.Load())
}
