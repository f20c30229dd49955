package browseflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/browseflow/pkg/browseflow/checkpoint"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
	"github.com/randalmurphal/browseflow/pkg/browseflow/observability"
)

// Outcome is how a run halted.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSuspended Outcome = "suspended"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a halted run.
type Result struct {
	Outcome Outcome
	// Scratch is the scratch state at the halt.
	Scratch Scratch
	// LastNode is the node that completed last, failed, or holds the suspension.
	LastNode string
	// Err is the node failure for OutcomeFailed.
	Err error
	// NodesExecuted counts executors that returned successfully.
	NodesExecuted int
	// Sequence is the last step/checkpoint sequence number used.
	Sequence int
}

// Engine runs workflows over a compiled graph. It holds no per-run state and
// is safe for concurrent use; callers serialize runs of the same workflow.
type Engine struct {
	graph     *CompiledGraph
	executors *Executors
}

// NewEngine binds a graph to its executors, checking that every node type
// has an executor.
func NewEngine(graph *CompiledGraph, executors *Executors) (*Engine, error) {
	if graph == nil {
		return nil, fmt.Errorf("engine requires a compiled graph")
	}
	if executors == nil {
		return nil, fmt.Errorf("engine requires executors")
	}
	if err := executors.Validate(graph); err != nil {
		return nil, err
	}
	return &Engine{graph: graph, executors: executors}, nil
}

// Graph returns the compiled graph.
func (e *Engine) Graph() *CompiledGraph {
	return e.graph
}

// Run executes the workflow from start until it completes, suspends for
// input or fails. An empty start means the graph's entry.
//
// Execution flow per node:
//  1. If the node requires input, suspend immediately and halt
//  2. Start a step and announce it as an agent thought
//  3. Run the executor on a copy of the scratch state
//  4. On failure, run the node's error handler, mark the step errored and halt
//  5. Merge the update, complete the step, checkpoint
//  6. Halt if the executor suspended the workflow
//  7. Follow the first outgoing edge whose guard passes; none means completed
//
// A node failure is reported in Result.Err with a nil error return. The
// returned error is reserved for runs that could not proceed at all:
// invalid arguments, cancellation, the iteration limit or a fatal
// checkpoint failure.
func (e *Engine) Run(ctx Context, start string, scratch Scratch, ws *WorkflowState, opts ...RunOption) (res Result, runErr error) {
	if ctx == nil {
		return Result{Outcome: OutcomeFailed, Scratch: scratch}, ErrNilContext
	}
	if ws == nil {
		return Result{Outcome: OutcomeFailed, Scratch: scratch}, ErrNilState
	}
	if start == "" {
		start = e.graph.Entry()
	}
	if !e.graph.HasNode(start) {
		return Result{Outcome: OutcomeFailed, Scratch: scratch}, &UnknownNodeError{NodeID: start, Role: "start"}
	}
	if scratch == nil {
		scratch = Scratch{}
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ec := asExecutionContext(ctx)
	startTime := time.Now()
	cfg.log = observability.NewRunLog(cfg.logger, ec.workflowID, ec.sessionID)
	cfg.log.Started(start)

	if cfg.tracingEnabled {
		var runSpan trace.Span
		var spanCtx context.Context
		spanCtx, runSpan = cfg.spans.StartRunSpan(ec.Context, ec.workflowID, ec.sessionID)
		ec = ec.withStd(spanCtx)
		defer func() {
			err := runErr
			if err == nil {
				err = res.Err
			}
			cfg.spans.EndSpanWithError(runSpan, err)
		}()
	}

	res, runErr = e.loop(ec, start, scratch, ws, &cfg)
	res.Sequence = cfg.sequence

	duration := time.Since(startTime)
	cfg.metrics.RecordRun(ec, string(res.Outcome), duration)
	cfg.log.Halted(string(res.Outcome), res.Err, duration, res.NodesExecuted, res.LastNode)
	return res, runErr
}

func (e *Engine) loop(ec *executionContext, start string, scratch Scratch, ws *WorkflowState, cfg *runConfig) (Result, error) {
	res := Result{Scratch: scratch, LastNode: start}
	ws.SetStatus(StatusRunning)

	current := start
	for iterations := 1; ; iterations++ {
		res.LastNode = current

		if iterations > cfg.maxIterations {
			err := &MaxIterationsError{Max: cfg.maxIterations, LastNodeID: current}
			return e.halt(ec, cfg, res, ws, err), err
		}
		if err := ec.Err(); err != nil {
			cerr := &CancellationError{NodeID: current, Cause: err}
			return e.halt(ec, cfg, res, ws, cerr), cerr
		}

		node, _ := e.graph.Node(current)
		nodeCtx := ec.withNodeID(current)

		if node.RequiresInput {
			ws.Suspend(node.ID, e.promptFor(node, res.Scratch))
			e.announceSuspension(nodeCtx, cfg, node.ID, ws)
			res.Outcome = OutcomeSuspended
			e.observe(cfg, current, res.Scratch, ws)
			return res, nil
		}

		cfg.sequence++
		step := NewStep(node, cfg.now(), cfg.sequence)
		_ = step.Start()
		ws.CurrentStep = step
		ws.touch()

		nodeCtx.Emit(message.NewAgentThought(ec.sessionID, message.AgentThought{
			Thought: "Executing step: " + node.DisplayName(),
			Plan:    nodeNames(e.graph.NextNodes(current, res.Scratch)),
			NodeID:  current,
		}))

		update, err := e.runNode(nodeCtx, cfg, node, res.Scratch, ws)
		if err != nil {
			_ = step.Fail(cfg.now())
			ws.recordStep(step)
			res.Scratch = e.handleError(nodeCtx, node, err, res.Scratch)
			res.Outcome = OutcomeFailed
			res.Err = err
			ws.LastError = err.Error()
			ws.SetStatus(StatusFailed)
			nodeCtx.Emit(message.FromError(ec.sessionID, err, map[string]any{
				"workflow_id": ec.workflowID,
				"node_id":     current,
			}))
			e.observe(cfg, current, res.Scratch, ws)
			return res, nil
		}

		res.NodesExecuted++
		res.Scratch = res.Scratch.Merge(update)
		_ = step.Complete(cfg.now())
		ws.recordStep(step)

		if ws.RequiresInput {
			e.announceSuspension(nodeCtx, cfg, current, ws)
			res.Outcome = OutcomeSuspended
			e.observe(cfg, current, res.Scratch, ws)
			return res, nil
		}

		next := ""
		if nexts := e.graph.NextNodes(current, res.Scratch); len(nexts) > 0 {
			next = nexts[0].ID
		}
		if next == "" {
			ws.SetStatus(StatusCompleted)
		}

		if cfg.checkpointStore != nil {
			if err := e.saveCheckpoint(nodeCtx, cfg, current, res.Scratch, ws, next); err != nil {
				return e.halt(ec, cfg, res, ws, err), err
			}
		}
		e.observe(cfg, current, res.Scratch, ws)

		if next == "" {
			res.Outcome = OutcomeCompleted
			return res, nil
		}
		current = next
	}
}

// runNode wraps executeNode with logging, metrics and a node span.
func (e *Engine) runNode(nodeCtx *executionContext, cfg *runConfig, node Node, scratch Scratch, ws *WorkflowState) (Scratch, error) {
	cfg.log.NodeStarted(node.ID, string(node.Type))

	var nodeSpan trace.Span
	if cfg.tracingEnabled {
		var spanCtx context.Context
		spanCtx, nodeSpan = cfg.spans.StartNodeSpan(nodeCtx.Context, node.ID, string(node.Type))
		nodeCtx = nodeCtx.withStd(spanCtx)
	}

	nodeStart := time.Now()
	update, err := e.executeNode(nodeCtx, node, scratch.Clone(), ws)
	nodeDuration := time.Since(nodeStart)

	cfg.metrics.RecordNodeExecution(nodeCtx, node.ID, string(node.Type), nodeDuration, err)
	if cfg.tracingEnabled {
		cfg.spans.EndSpanWithError(nodeSpan, err)
	}

	cfg.log.NodeFinished(node.ID, nodeDuration, err)
	if err != nil {
		return nil, err
	}
	return update, nil
}

// executeNode runs a node's executor with panic recovery.
func (e *Engine) executeNode(ctx *executionContext, node Node, scratch Scratch, ws *WorkflowState) (result Scratch, err error) {
	ex, ok := e.executors.Lookup(node.Type)
	if !ok {
		return nil, &NodeError{NodeID: node.ID, Op: "lookup", Err: ErrNoExecutor}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{
				NodeID: node.ID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = ex.Execute(ctx, scratch, ws)
	if err != nil {
		return nil, &NodeError{NodeID: node.ID, Op: "execute", Err: err}
	}
	return result, nil
}

// handleError runs the node's error handler, if any, and merges its update.
func (e *Engine) handleError(ctx *executionContext, node Node, err error, scratch Scratch) (out Scratch) {
	out = scratch
	if node.OnError == "" {
		return out
	}
	h, ok := e.executors.ErrorHandler(node.OnError)
	if !ok {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			ctx.logger.Error("error handler panicked",
				slog.String("handler", node.OnError),
				slog.Any("panic", r),
			)
			out = scratch
		}
	}()
	return scratch.Merge(h(ctx, err, scratch.Clone()))
}

// promptFor builds the input request for a RequiresInput node. The node's
// executor supplies it when it implements Prompter.
func (e *Engine) promptFor(node Node, scratch Scratch) message.InputRequest {
	var req message.InputRequest
	if ex, ok := e.executors.Lookup(node.Type); ok {
		if p, ok := ex.(Prompter); ok {
			req = p.Prompt(node, scratch)
		}
	}
	if req.Prompt == "" {
		req.Prompt = node.InputPrompt
	}
	if req.Prompt == "" {
		req.Prompt = scratch.String(KeyInputPrompt, DefaultInputPrompt)
	}
	if req.Timeout == 0 && node.InputTimeout > 0 {
		req.Timeout = int(node.InputTimeout / time.Second)
	}
	return req
}

func (e *Engine) announceSuspension(ctx *executionContext, cfg *runConfig, nodeID string, ws *WorkflowState) {
	req := message.InputRequest{Prompt: DefaultInputPrompt, InputType: "text"}
	if ws.PendingInput != nil {
		req = *ws.PendingInput
	}
	cfg.metrics.RecordSuspension(ctx, nodeID)
	cfg.log.Suspended(nodeID, req.Prompt, req.InputType)
	ctx.Emit(message.NewInputRequest(ctx.sessionID, message.InputRequestPayload{
		WorkflowID: ctx.workflowID,
		NodeID:     nodeID,
		Request:    req,
	}))
}

// halt records a run-level failure on the workflow state.
func (e *Engine) halt(ec *executionContext, cfg *runConfig, res Result, ws *WorkflowState, err error) Result {
	ws.CurrentStep = nil
	ws.LastError = err.Error()
	ws.SetStatus(StatusFailed)
	res.Outcome = OutcomeFailed
	res.Err = err
	ec.Emit(message.FromError(ec.sessionID, err, map[string]any{
		"workflow_id": ec.workflowID,
		"node_id":     res.LastNode,
	}))
	e.observe(cfg, res.LastNode, res.Scratch, ws)
	return res
}

func (e *Engine) observe(cfg *runConfig, nodeID string, scratch Scratch, ws *WorkflowState) {
	if cfg.observer != nil {
		cfg.observer(nodeID, scratch, ws)
	}
}

// saveCheckpoint persists the scratch and workflow state after a node.
func (e *Engine) saveCheckpoint(ctx *executionContext, cfg *runConfig, nodeID string, scratch Scratch, ws *WorkflowState, nextNode string) error {
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
		}
		cfg.log.Checkpointed(nodeID, cfg.sequence, 0, op, err)
		return nil
	}

	scratchBytes, err := json.Marshal(scratch)
	if err != nil {
		return fail("serialize", err)
	}
	wsBytes, err := json.Marshal(ws)
	if err != nil {
		return fail("serialize", err)
	}

	cp := checkpoint.New(ctx.workflowID, ctx.sessionID, nodeID, cfg.sequence, scratchBytes, wsBytes, nextNode)
	data, err := cp.Marshal()
	if err != nil {
		return fail("marshal", err)
	}
	if err := cfg.checkpointStore.Save(ctx, ctx.workflowID, nodeID, data); err != nil {
		return fail("save", err)
	}

	cfg.log.Checkpointed(nodeID, cfg.sequence, len(data), "save", nil)
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

func nodeNames(nodes []Node) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.DisplayName())
	}
	return names
}
