// Package workflow manages workflow instances over the browseflow engine:
// creating them, running them, feeding them user input and cleaning them up.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Snapshot is a point-in-time copy of a workflow instance.
type Snapshot struct {
	WorkflowID string                    `json:"workflow_id"`
	SessionID  string                    `json:"session_id"`
	Goal       string                    `json:"goal"`
	Status     browseflow.WorkflowStatus `json:"status"`
	// ResumeAt is where the next Execute starts; empty means the entry node.
	ResumeAt  string                    `json:"resume_at,omitempty"`
	Scratch   browseflow.Scratch        `json:"scratch"`
	State     *browseflow.WorkflowState `json:"state"`
	CreatedAt time.Time                 `json:"created_at"`
}

type instance struct {
	id        string
	sessionID string
	goal      string
	createdAt time.Time

	// run is held for the whole of a run, an input submission or an
	// input timeout. It guards scratch, state, resumeAt and sequence.
	run      sync.Mutex
	scratch  browseflow.Scratch
	state    *browseflow.WorkflowState
	resumeAt string
	sequence int

	mu         sync.Mutex
	snap       Snapshot
	sink       browseflow.EventSink
	timer      *time.Timer
	suspendSeq uint64
}

// capture refreshes the snapshot returned by Manager.Get.
func (inst *instance) capture(scratch browseflow.Scratch, ws *browseflow.WorkflowState) {
	s := scratch.Clone()
	st := ws.Clone()
	inst.mu.Lock()
	inst.snap.Scratch = s
	inst.snap.State = st
	inst.snap.Status = st.Status
	inst.mu.Unlock()
}

func (inst *instance) setResumeAt(nodeID string) {
	inst.resumeAt = nodeID
	inst.mu.Lock()
	inst.snap.ResumeAt = nodeID
	inst.mu.Unlock()
}

func (inst *instance) setSink(sink browseflow.EventSink) {
	if sink == nil {
		return
	}
	inst.mu.Lock()
	inst.sink = sink
	inst.mu.Unlock()
}

// stopTimer disarms any pending input timeout. A timeout that already fired
// sees the bumped sequence and does nothing.
func (inst *instance) stopTimer() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.timer != nil {
		inst.timer.Stop()
		inst.timer = nil
	}
	inst.suspendSeq++
}

// Manager owns workflow instances. All instances share one compiled graph
// and engine; runs of the same instance are serialized.
type Manager struct {
	executors *browseflow.Executors
	def       Definition
	graph     *browseflow.CompiledGraph
	engine    *browseflow.Engine

	store         checkpoint.Store
	logger        *slog.Logger
	maxIterations int
	inputTimeout  time.Duration
	runOpts       []browseflow.RunOption
	now           func() time.Time

	mu        sync.RWMutex
	instances map[string]*instance
}

// NewManager compiles the workflow definition (the standard topology unless
// WithDefinition is given) and binds it to executors.
func NewManager(executors *browseflow.Executors, opts ...Option) (*Manager, error) {
	m := &Manager{
		executors: executors,
		def:       StandardDefinition(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		instances: make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(m)
	}

	graph, err := m.def.Build()
	if err != nil {
		return nil, fmt.Errorf("build workflow %q: %w", m.def.Name, err)
	}
	engine, err := browseflow.NewEngine(graph, executors)
	if err != nil {
		return nil, fmt.Errorf("bind workflow %q: %w", m.def.Name, err)
	}
	m.graph = graph
	m.engine = engine
	return m, nil
}

// Graph returns the compiled workflow graph.
func (m *Manager) Graph() *browseflow.CompiledGraph {
	return m.graph
}

// Create registers a new workflow for sessionID and returns its id. The
// initial scratch state holds the goal, the start time and a blank browser
// state. A workflow_created system event is sent to sink.
func (m *Manager) Create(ctx context.Context, sessionID, goal string, sink browseflow.EventSink) string {
	id := uuid.NewString()
	now := m.now()
	scratch := browseflow.Scratch{
		browseflow.KeyGoal:         goal,
		browseflow.KeyStartTime:    now.Format(time.RFC3339Nano),
		browseflow.KeyBrowserState: map[string]any{"url": "about:blank"},
	}
	ws := browseflow.NewWorkflowState(sessionID)

	inst := &instance{
		id:        id,
		sessionID: sessionID,
		goal:      goal,
		createdAt: now,
		scratch:   scratch,
		state:     ws,
		sink:      sink,
		snap: Snapshot{
			WorkflowID: id,
			SessionID:  sessionID,
			Goal:       goal,
			CreatedAt:  now,
		},
	}
	inst.capture(scratch, ws)

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	m.logger.Info("workflow created",
		slog.String("workflow_id", id),
		slog.String("session_id", sessionID),
	)
	m.emit(ctx, sink, message.NewSystemEvent(sessionID, message.EventWorkflowCreated, map[string]any{
		"workflow_id":   id,
		"goal":          goal,
		"initial_state": map[string]any(scratch.Clone()),
	}, message.SeverityInfo))
	return id
}

// Execute runs the workflow until it completes, suspends for input or
// fails. A suspended workflow resumes at the node it is parked on, which
// suspends again; use SubmitInput to continue past it. A failed workflow
// resumes at the node that failed and a completed one starts over.
//
// As with browseflow.Engine.Run, node failures are reported in
// Result.Err; the error return is for unknown workflows and runs that
// could not proceed.
func (m *Manager) Execute(ctx context.Context, workflowID string, sink browseflow.EventSink) (browseflow.Result, error) {
	inst, err := m.lookup(workflowID)
	if err != nil {
		return browseflow.Result{}, err
	}
	inst.run.Lock()
	defer inst.run.Unlock()
	return m.run(ctx, inst, sink)
}

// SubmitInput records input for the workflow and runs it again from the
// entry node. Input is accepted whether or not the workflow is suspended.
func (m *Manager) SubmitInput(ctx context.Context, workflowID string, input map[string]any, sink browseflow.EventSink) (browseflow.Result, error) {
	inst, err := m.lookup(workflowID)
	if err != nil {
		return browseflow.Result{}, err
	}
	inst.run.Lock()
	defer inst.run.Unlock()

	inst.stopTimer()
	if input == nil {
		input = map[string]any{}
	}
	inst.scratch = inst.scratch.Merge(browseflow.Scratch{
		browseflow.KeyUserInput:      map[string]any(browseflow.Scratch(input).Clone()),
		browseflow.KeyInputReceived:  true,
		browseflow.KeyInputTimestamp: m.now().Format(time.RFC3339Nano),
		browseflow.KeyNeedsUserInput: false,
	})
	inst.setResumeAt(m.graph.Entry())

	m.logger.Info("user input received",
		slog.String("workflow_id", inst.id),
		slog.Int("fields", len(input)),
	)
	return m.run(ctx, inst, sink)
}

// run executes one engine run for inst. inst.run must be held.
func (m *Manager) run(ctx context.Context, inst *instance, sink browseflow.EventSink) (browseflow.Result, error) {
	inst.stopTimer()
	inst.setSink(sink)
	inst.state.ClearSuspension()

	start := inst.resumeAt
	if start == "" {
		start = m.graph.Entry()
	}

	bctx := browseflow.NewContext(ctx,
		browseflow.WithLogger(m.logger),
		browseflow.WithEventSink(sink),
		browseflow.WithWorkflowID(inst.id),
		browseflow.WithSessionID(inst.sessionID),
	)
	opts := []browseflow.RunOption{
		browseflow.WithMaxIterations(m.maxIterations),
		browseflow.WithSequence(inst.sequence),
		browseflow.WithObservabilityLogger(m.logger),
		browseflow.WithClock(m.now),
		browseflow.WithStateObserver(func(_ string, s browseflow.Scratch, ws *browseflow.WorkflowState) {
			inst.capture(s, ws)
		}),
	}
	if m.store != nil {
		opts = append(opts, browseflow.WithCheckpointing(m.store))
	}
	opts = append(opts, m.runOpts...)

	res, err := m.engine.Run(bctx, start, inst.scratch, inst.state, opts...)
	inst.scratch = res.Scratch
	inst.sequence = res.Sequence
	if res.Outcome == browseflow.OutcomeCompleted {
		inst.setResumeAt("")
	} else {
		inst.setResumeAt(res.LastNode)
	}
	inst.capture(inst.scratch, inst.state)

	if res.Outcome == browseflow.OutcomeSuspended {
		m.armInputTimeout(inst)
	}

	m.emit(ctx, sink, message.NewWorkflowUpdate(inst.sessionID, message.WorkflowUpdate{
		WorkflowID: inst.id,
		Status:     string(inst.state.Status),
		Outcome:    string(res.Outcome),
		NodeID:     res.LastNode,
		State:      inst.state.Clone(),
		Result:     summarize(res.Scratch),
	}))

	res.Scratch = inst.scratch.Clone()
	return res, err
}

// armInputTimeout starts the timer that fails a suspended workflow. inst.run
// must be held.
func (m *Manager) armInputTimeout(inst *instance) {
	timeout := m.inputTimeout
	if p := inst.state.PendingInput; p != nil && p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	if timeout <= 0 {
		return
	}
	nodeID := inst.state.SuspendedAt

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.suspendSeq++
	seq := inst.suspendSeq
	inst.timer = time.AfterFunc(timeout, func() {
		m.expireInput(inst, seq, nodeID, timeout)
	})
}

func (m *Manager) expireInput(inst *instance, seq uint64, nodeID string, timeout time.Duration) {
	inst.run.Lock()
	defer inst.run.Unlock()

	inst.mu.Lock()
	current := inst.suspendSeq == seq
	if current {
		inst.timer = nil
	}
	sink := inst.sink
	inst.mu.Unlock()
	if !current || !inst.state.RequiresInput {
		return
	}

	err := &InputTimeoutError{WorkflowID: inst.id, NodeID: nodeID, Timeout: timeout.String()}
	inst.state.ClearSuspension()
	inst.state.LastError = err.Error()
	inst.state.SetStatus(browseflow.StatusFailed)
	inst.scratch = inst.scratch.Merge(browseflow.Scratch{
		browseflow.KeyError:     err.Error(),
		browseflow.KeyErrorNode: nodeID,
		browseflow.KeyErrorCode: string(message.CodeInputTimeout),
	})
	inst.capture(inst.scratch, inst.state)

	m.logger.Warn("workflow input timed out",
		slog.String("workflow_id", inst.id),
		slog.String("node_id", nodeID),
		slog.Duration("timeout", timeout),
	)
	ctx := context.Background()
	m.emit(ctx, sink, message.FromError(inst.sessionID, err, map[string]any{
		"workflow_id": inst.id,
		"node_id":     nodeID,
	}))
	m.emit(ctx, sink, message.NewSystemEvent(inst.sessionID, message.EventInputTimeout, map[string]any{
		"workflow_id": inst.id,
		"node_id":     nodeID,
		"timeout":     timeout.String(),
	}, message.SeverityWarning))
}

// Cleanup forgets the workflow and deletes its checkpoints. Unknown ids
// are ignored, so Cleanup may be called any number of times. Callers wait
// for an in-flight Execute before cleaning up.
func (m *Manager) Cleanup(ctx context.Context, workflowID string) {
	m.mu.Lock()
	inst, ok := m.instances[workflowID]
	delete(m.instances, workflowID)
	m.mu.Unlock()
	if !ok {
		return
	}
	inst.stopTimer()

	if m.store != nil {
		if err := m.store.DeleteRun(ctx, workflowID); err != nil {
			m.logger.Warn("delete workflow checkpoints",
				slog.String("workflow_id", workflowID),
				slog.String("error", err.Error()),
			)
		}
	}

	inst.mu.Lock()
	sink := inst.sink
	inst.mu.Unlock()
	m.logger.Info("workflow cleaned up", slog.String("workflow_id", workflowID))
	m.emit(ctx, sink, message.NewSystemEvent(inst.sessionID, message.EventWorkflowCleaned, map[string]any{
		"workflow_id": workflowID,
	}, message.SeverityInfo))
}

// Get returns a snapshot of the workflow. While a run is in progress the
// snapshot reflects the last node boundary.
func (m *Manager) Get(workflowID string) (Snapshot, error) {
	inst, err := m.lookup(workflowID)
	if err != nil {
		return Snapshot{}, err
	}
	return inst.snapshot(), nil
}

// List returns snapshots of every workflow, oldest first. A non-empty
// sessionID limits the result to that session.
func (m *Manager) List(sessionID string) []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.instances))
	for _, inst := range m.instances {
		if sessionID != "" && inst.sessionID != sessionID {
			continue
		}
		out = append(out, inst.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}

// Len returns the number of live workflows.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Recover rebuilds a workflow from its latest checkpoint. The next Execute
// resumes at the node the checkpoint recorded as next. A workflow that was
// mid-run when the checkpoint was taken comes back in the created status.
func (m *Manager) Recover(ctx context.Context, workflowID string) (Snapshot, error) {
	if m.store == nil {
		return Snapshot{}, errors.New("recover requires a checkpoint store")
	}
	m.mu.RLock()
	_, live := m.instances[workflowID]
	m.mu.RUnlock()
	if live {
		return Snapshot{}, fmt.Errorf("recover %s: %w", workflowID, ErrWorkflowExists)
	}

	cp, err := checkpoint.LoadLatest(ctx, m.store, workflowID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return Snapshot{}, &NotFoundError{WorkflowID: workflowID}
		}
		return Snapshot{}, fmt.Errorf("recover %s: %w", workflowID, err)
	}

	var scratch browseflow.Scratch
	if err := json.Unmarshal(cp.Scratch, &scratch); err != nil {
		return Snapshot{}, fmt.Errorf("recover %s: decode scratch: %w", workflowID, err)
	}
	ws := &browseflow.WorkflowState{}
	if err := json.Unmarshal(cp.Workflow, ws); err != nil {
		return Snapshot{}, fmt.Errorf("recover %s: decode state: %w", workflowID, err)
	}
	ws.CurrentStep = nil
	if ws.Status == browseflow.StatusRunning {
		ws.SetStatus(browseflow.StatusCreated)
	}

	goal := scratch.String(browseflow.KeyGoal, "")
	inst := &instance{
		id:        workflowID,
		sessionID: cp.SessionID,
		goal:      goal,
		createdAt: ws.CreatedAt,
		scratch:   scratch,
		state:     ws,
		resumeAt:  cp.NextNode,
		sequence:  cp.Sequence,
		snap: Snapshot{
			WorkflowID: workflowID,
			SessionID:  cp.SessionID,
			Goal:       goal,
			ResumeAt:   cp.NextNode,
			CreatedAt:  ws.CreatedAt,
		},
	}
	inst.capture(scratch, ws)

	m.mu.Lock()
	if _, live := m.instances[workflowID]; live {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("recover %s: %w", workflowID, ErrWorkflowExists)
	}
	m.instances[workflowID] = inst
	m.mu.Unlock()

	m.logger.Info("workflow recovered",
		slog.String("workflow_id", workflowID),
		slog.String("resume_at", cp.NextNode),
		slog.Int("sequence", cp.Sequence),
	)
	return inst.snapshot(), nil
}

func (inst *instance) snapshot() Snapshot {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	s := inst.snap
	s.Scratch = s.Scratch.Clone()
	s.State = s.State.Clone()
	return s
}

func (m *Manager) lookup(workflowID string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[workflowID]
	if !ok {
		return nil, &NotFoundError{WorkflowID: workflowID}
	}
	return inst, nil
}

func (m *Manager) emit(ctx context.Context, sink browseflow.EventSink, msg message.Message) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, msg); err != nil {
		m.logger.Debug("event delivery failed",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// summaryKeys are copied into the result of a workflow_update.
var summaryKeys = []string{
	browseflow.KeyValidationSuccess,
	browseflow.KeyThoughtProcess,
	browseflow.KeyActionResults,
	browseflow.KeyFailedActions,
	browseflow.KeyBrowserState,
	browseflow.KeyUserInput,
	browseflow.KeyError,
	browseflow.KeyErrorCode,
}

func summarize(s browseflow.Scratch) map[string]any {
	out := make(map[string]any, len(summaryKeys))
	for _, k := range summaryKeys {
		if v, ok := s[k]; ok {
			out[k] = v
		}
	}
	return map[string]any(browseflow.Scratch(out).Clone())
}
