package browseflow

// CompiledGraph is an immutable, validated workflow topology.
// It is safe to share across goroutines and concurrent runs.
type CompiledGraph struct {
	nodes    map[string]Node
	order    []string
	edges    []compiledEdge
	outgoing map[string][]compiledEdge
	entry    string
}

type compiledEdge struct {
	Edge
	guard *compiledGuard
}

// Entry returns the entry node id.
func (cg *CompiledGraph) Entry() string {
	return cg.entry
}

// Node returns the node with the given id.
func (cg *CompiledGraph) Node(id string) (Node, bool) {
	n, ok := cg.nodes[id]
	return n, ok
}

// HasNode returns true if the node exists.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// NodeIDs returns node ids in the order they were added.
func (cg *CompiledGraph) NodeIDs() []string {
	return append([]string(nil), cg.order...)
}

// Edges returns a copy of all edges in declaration order.
func (cg *CompiledGraph) Edges() []Edge {
	out := make([]Edge, 0, len(cg.edges))
	for _, e := range cg.edges {
		out = append(out, e.Edge)
	}
	return out
}

// Successors returns every possible target of id, ignoring guards.
func (cg *CompiledGraph) Successors(id string) []string {
	var out []string
	for _, e := range cg.outgoing[id] {
		out = append(out, e.Target)
	}
	return out
}

// NextNodes returns the targets of id's outgoing edges whose guard accepts
// the scratch state, in edge declaration order. An unknown id or a node with
// no passing edges yields an empty slice.
func (cg *CompiledGraph) NextNodes(id string, s Scratch) []Node {
	var out []Node
	for _, e := range cg.outgoing[id] {
		if e.guard.accepts(s) {
			out = append(out, cg.nodes[e.Target])
		}
	}
	return out
}
