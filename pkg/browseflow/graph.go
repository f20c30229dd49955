package browseflow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Graph is a mutable builder for workflow topologies.
// Use NewGraph, then AddNode, AddEdge and SetEntry, then Compile to get an
// immutable CompiledGraph that can be shared across concurrent runs.
//
// Unlike a compiled graph, a Graph should be built from a single goroutine.
//
// Example:
//
//	g := browseflow.NewGraph()
//	_ = g.AddNode(browseflow.Node{ID: "plan", Type: browseflow.NodePlanning})
//	_ = g.AddNode(browseflow.Node{ID: "act", Type: browseflow.NodeActionDispatch})
//	_ = g.AddEdge(browseflow.Edge{Source: "plan", Target: "act"})
//	_ = g.SetEntry("plan")
//	compiled, err := g.Compile()
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	order []string
	edges []Edge
	entry string
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
	}
}

// AddNode registers a node. It fails with *DuplicateNodeError when the id is
// already taken, or ErrInvalidNode when the node is malformed.
func (g *Graph) AddNode(n Node) error {
	if err := n.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[n.ID]; exists {
		return &DuplicateNodeError{NodeID: n.ID}
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge registers a directed edge. Both endpoints must already exist.
// Edges are evaluated in the order they were added.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[e.Source]; !ok {
		return &UnknownNodeError{NodeID: e.Source, Role: "source"}
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return &UnknownNodeError{NodeID: e.Target, Role: "target"}
	}
	if _, err := compileGuard(e.Guard); err != nil {
		return &GuardError{Source: e.Source, Target: e.Target, Err: fmt.Errorf("%w: %v", ErrInvalidGuard, err)}
	}
	if e.Guard != nil {
		gc := *e.Guard
		e.Guard = &gc
	}
	g.edges = append(g.edges, e)
	return nil
}

// SetEntry designates the node a fresh run starts at.
func (g *Graph) SetEntry(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return &UnknownNodeError{NodeID: id, Role: "entry"}
	}
	g.entry = id
	return nil
}

// Compile validates the graph and creates an executable CompiledGraph.
// Multiple validation errors are joined together.
//
// Nodes unreachable from the entry are logged as warnings but do not fail
// compilation. Nodes without outgoing edges are terminal, which is how a run
// completes.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	if g.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	}

	cg := &CompiledGraph{
		nodes:    make(map[string]Node, len(g.nodes)),
		order:    append([]string(nil), g.order...),
		outgoing: make(map[string][]compiledEdge),
		entry:    g.entry,
	}
	for id, n := range g.nodes {
		cg.nodes[id] = n
	}

	for _, e := range g.edges {
		guard, err := compileGuard(e.Guard)
		if err != nil {
			errs = append(errs, &GuardError{Source: e.Source, Target: e.Target, Err: err})
			continue
		}
		ce := compiledEdge{Edge: e, guard: guard}
		cg.edges = append(cg.edges, ce)
		cg.outgoing[e.Source] = append(cg.outgoing[e.Source], ce)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cg.warnUnreachableNodes()
	return cg, nil
}

func (cg *CompiledGraph) warnUnreachableNodes() {
	seen := map[string]bool{cg.entry: true}
	queue := []string{cg.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range cg.outgoing[id] {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	for _, id := range cg.order {
		if !seen[id] {
			slog.Warn("browseflow: node unreachable from entry", "node_id", id, "entry", cg.entry)
		}
	}
}
