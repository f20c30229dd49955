/*
Package browseflow provides a graph-driven orchestration engine for
browser-automation agents with human-in-the-loop suspension.

# Overview

A workflow is a directed graph of typed nodes (planning, action dispatch,
validation, input request) joined by guarded edges. The engine walks the
graph one node at a time, merging each executor's partial update into a
free-form scratch state, recording a Step per node and following the first
outgoing edge whose guard accepts the state. A run ends when no edge
passes (completed), when a node needs a human (suspended) or when an
executor fails (failed).

# Building a Graph

	g := browseflow.NewGraph()
	_ = g.AddNode(browseflow.Node{ID: "plan", Name: "Planning Actions", Type: browseflow.NodePlanning})
	_ = g.AddNode(browseflow.Node{ID: "act", Name: "Executing Browser Actions", Type: browseflow.NodeActionDispatch})
	_ = g.AddNode(browseflow.Node{ID: "check", Name: "Validating Actions", Type: browseflow.NodeValidation})
	_ = g.AddEdge(browseflow.Edge{Source: "plan", Target: "act"})
	_ = g.AddEdge(browseflow.Edge{Source: "act", Target: "check"})
	_ = g.AddEdge(browseflow.Edge{Source: "check", Target: "plan", Guard: browseflow.Flag("needs_retry")})
	_ = g.SetEntry("plan")

	compiled, err := g.Compile()

Guards are either a scratch key tested for truthiness (Flag) or an
expr-lang expression (When). Guards never fail: anything that cannot be
evaluated counts as false.

# Running

Register an Executor per node type, bind them to the graph and run:

	engine, err := browseflow.NewEngine(compiled, executors)
	ctx := browseflow.NewContext(context.Background(),
	    browseflow.WithWorkflowID(id),
	    browseflow.WithSessionID(sessionID),
	    browseflow.WithEventSink(sink))
	res, err := engine.Run(ctx, "", scratch, ws)
	switch res.Outcome {
	case browseflow.OutcomeSuspended:
	    // ws.PendingInput describes what the user must supply
	}

# Observability

Run options enable slog lifecycle logging (WithObservabilityLogger),
OpenTelemetry metrics (WithMetrics) and tracing (WithTracing). Checkpoints
are saved after every node with WithCheckpointing.

The workflow subpackage wires the standard topology, executors from the
nodes subpackage and per-instance bookkeeping into a Manager.
*/
package browseflow
