// Package depgraph builds the dependency DAG of source packages whose
// edges represent "must be built before" relations derived from Debian
// binary build dependencies. Graph storage and SCC detection are
// delegated to gonum.org/v1/gonum/graph, the same library the teacher's
// batch scheduler uses for its package build graph.
package depgraph

import (
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is a source package in the dependency graph.
type Node struct {
	ID           int64
	Name         string
	NeedsRebuild bool
	// AddNode sets Wave to -1; nothing in the module updates Wave or
	// ForcedBy afterwards (wave.Compute returns its results in
	// wave.Result instead).
	Wave     int
	ForcedBy []string
}

// Edge is a directed "dependent depends on dependency" relation.
type Edge struct {
	From string // dependent
	To   string // dependency (must build first)
}

// ErrCycleDetected is returned by TopologicalSort when the graph contains
// one or more cycles.
var ErrCycleDetected = xerrors.New("dependency graph contains a cycle")

// Graph is a DAG of source packages. The zero value is not usable; use
// New.
type Graph struct {
	g        *simple.DirectedGraph
	byName   map[string]*Node
	byID     map[int64]*Node
	nextID   int64
	excluded map[[2]string]bool // directional soft-exclusion pairs
}

// New constructs an empty Graph with the fixed soft-exclusion rules
// pre-loaded (e.g. python-oslo.config -> python-oslo.log).
func New() *Graph {
	g := &Graph{
		g:      simple.NewDirectedGraph(),
		byName: map[string]*Node{},
		byID:   map[int64]*Node{},
		excluded: map[[2]string]bool{
			{"python-oslo.config", "python-oslo.log"}: true,
			{"python-oslo.log", "python-oslo.config"}: true,
			{"python-oslo.config", "python-oslotest"}:  true,
			{"python-oslo.log", "python-oslotest"}:     true,
		},
	}
	return g
}

// AddNode registers a source package. Calling it twice with the same
// name is a no-op (the existing node is kept).
func (gr *Graph) AddNode(name string, needsRebuild bool) *Node {
	if n, ok := gr.byName[name]; ok {
		return n
	}
	n := &Node{ID: gr.nextID, Name: name, NeedsRebuild: needsRebuild, Wave: -1}
	gr.nextID++
	gr.byName[name] = n
	gr.byID[n.ID] = n
	gr.g.AddNode(simpleNode{n.ID})
	return n
}

// Node looks up a node by name.
func (gr *Graph) Node(name string) (*Node, bool) {
	n, ok := gr.byName[name]
	return n, ok
}

// Nodes returns every node, sorted by name.
func (gr *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(gr.byName))
	for _, n := range gr.byName {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsExcluded reports whether the (from, to) edge is suppressed by the
// fixed soft-exclusion table.
func (gr *Graph) IsExcluded(from, to string) bool {
	return gr.excluded[[2]string{from, to}]
}

// AddEdge adds a directed dependent -> dependency edge. Self-loops are a
// no-op. Both endpoints must already be nodes (via AddNode); an edge to
// an unknown node is also a no-op, since edges are only constructed
// within the target set.
func (gr *Graph) AddEdge(from, to string) {
	if from == to {
		return
	}
	f, ok := gr.byName[from]
	if !ok {
		return
	}
	t, ok := gr.byName[to]
	if !ok {
		return
	}
	if gr.g.HasEdgeFromTo(f.ID, t.ID) {
		return
	}
	gr.g.SetEdge(gr.g.NewEdge(simpleNode{f.ID}, simpleNode{t.ID}))
}

// Edges returns every edge in the graph, sorted for determinism.
func (gr *Graph) Edges() []Edge {
	var out []Edge
	it := gr.g.Edges()
	for it.Next() {
		e := it.Edge()
		out = append(out, Edge{
			From: gr.byID[e.From().ID()].Name,
			To:   gr.byID[e.To().ID()].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Dependencies returns the names a node depends on (must build first).
func (gr *Graph) Dependencies(name string) []string {
	n, ok := gr.byName[name]
	if !ok {
		return nil
	}
	var out []string
	to := gr.g.From(n.ID)
	for to.Next() {
		out = append(out, gr.byID[to.Node().ID()].Name)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the names that depend on a node.
func (gr *Graph) Dependents(name string) []string {
	n, ok := gr.byName[name]
	if !ok {
		return nil
	}
	var out []string
	from := gr.g.To(n.ID)
	for from.Next() {
		out = append(out, gr.byID[from.Node().ID()].Name)
	}
	sort.Strings(out)
	return out
}

// TopologicalSort returns source packages in build order (dependencies
// before dependents) using Kahn's algorithm, breaking ties by name for
// determinism. Returns ErrCycleDetected if any node is unreachable.
func (gr *Graph) TopologicalSort() ([]string, error) {
	indegree := map[string]int{}
	for name := range gr.byName {
		indegree[name] = 0
	}
	for _, e := range gr.Edges() {
		indegree[e.From]++ // From depends on To, so From's indegree counts unresolved deps
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	// dependentsOf[name] = nodes that depend on name (edges name -> dependent reversed)
	dependentsOf := map[string][]string{}
	for _, e := range gr.Edges() {
		dependentsOf[e.To] = append(dependentsOf[e.To], e.From)
	}
	for k := range dependentsOf {
		sort.Strings(dependentsOf[k])
	}

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range dependentsOf[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(gr.byName) {
		return order, ErrCycleDetected
	}
	return order, nil
}

// DetectCycles returns every strongly-connected component of size >= 2,
// plus any self-loops (defensive: AddEdge never creates one), using
// Tarjan's algorithm via gonum/graph/topo.
func (gr *Graph) DetectCycles() [][]string {
	sccs := topo.TarjanSCC(gr.g)
	var out [][]string
	for _, scc := range sccs {
		if len(scc) < 2 && !(len(scc) == 1 && gr.g.HasEdgeFromTo(scc[0].ID(), scc[0].ID())) {
			continue
		}
		names := make([]string, 0, len(scc))
		for _, n := range scc {
			names = append(names, gr.byID[n.ID()].Name)
		}
		sort.Strings(names)
		out = append(out, names)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// GetCycleEdges returns the set of edges with both endpoints in the same
// cycle, used to feed cycle-break suggestions.
func (gr *Graph) GetCycleEdges() []Edge {
	inCycle := map[string]int{} // name -> cycle index
	for i, scc := range gr.DetectCycles() {
		for _, name := range scc {
			inCycle[name] = i
		}
	}
	var out []Edge
	for _, e := range gr.Edges() {
		if ci, ok := inCycle[e.From]; ok {
			if cj, ok := inCycle[e.To]; ok && ci == cj {
				out = append(out, e)
			}
		}
	}
	return out
}

// FindMissingDependencies reports which of depNames (the binary
// dependency names of one node) resolve neither to a graph node nor to
// an entry in the supplied binary index, sorted.
func (gr *Graph) FindMissingDependencies(name string, depNames []string, binaryIndex map[string]bool) []string {
	var missing []string
	for _, dep := range depNames {
		if _, ok := gr.byName[dep]; ok {
			continue
		}
		if binaryIndex[dep] {
			continue
		}
		missing = append(missing, dep)
	}
	sort.Strings(missing)
	return missing
}

// simpleNode adapts an int64 ID to gonum's graph.Node interface.
type simpleNode struct{ id int64 }

func (n simpleNode) ID() int64 { return n.id }

var _ graph.Node = simpleNode{}
