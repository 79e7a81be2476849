// Package graph maintains the mutable dependency DAG over desired
// resources. Nodes are keyed by resource id; edges are derived from each
// node's spec. Every mutation validates before touching the structure, so
// a rejected insert or remove leaves the graph exactly as it was.
//
// Ordering is deterministic: ties in topological order are broken by
// insertion sequence, so the same insertion history always yields the same
// execution order.
package graph

import (
	"sort"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// vertex is a stored node with its insertion sequence number.
type vertex struct {
	node resource.Node
	seq  int
}

// Graph is a mutable DAG of resource nodes. It is not safe for concurrent
// use; the reconciler serializes access.
type Graph struct {
	vertices   map[resource.ID]*vertex
	deps       map[resource.ID]map[resource.ID]bool
	dependents map[resource.ID]map[resource.ID]bool
	nextSeq    int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		vertices:   make(map[resource.ID]*vertex),
		deps:       make(map[resource.ID]map[resource.ID]bool),
		dependents: make(map[resource.ID]map[resource.ID]bool),
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.vertices)
}

// Node returns the stored node for an id.
func (g *Graph) Node(id resource.ID) (resource.Node, bool) {
	v, ok := g.vertices[id]
	if !ok {
		return resource.Node{}, false
	}
	return v.node, true
}

// IDs returns all node ids in insertion order.
func (g *Graph) IDs() []resource.ID {
	ids := make([]resource.ID, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	g.sortBySeq(ids)
	return ids
}

// Dependencies returns the direct dependencies of a node in insertion
// order.
func (g *Graph) Dependencies(id resource.ID) []resource.ID {
	return g.sortedEdgeSet(g.deps[id])
}

// Dependents returns the direct dependents of a node in insertion order.
func (g *Graph) Dependents(id resource.ID) []resource.ID {
	return g.sortedEdgeSet(g.dependents[id])
}

// Insert adds a node or replaces an existing one, rewiring its dependency
// edges atomically. Unknown dependencies are rejected with
// DanglingDependencyError and a new edge set that would close a cycle is
// rejected with CycleError; in both cases the graph is unchanged.
func (g *Graph) Insert(node resource.Node) error {
	depIDs := node.Dependencies()

	var missing []resource.ID
	for _, dep := range depIDs {
		if dep == node.ID {
			return &CycleError{Path: []resource.ID{node.ID, node.ID}}
		}
		if _, ok := g.vertices[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DanglingDependencyError{ID: node.ID, Missing: missing}
	}

	// A cycle through the new edge set exists iff some declared dependency
	// already reaches this node. The search stops at the first arrival, so
	// the node's old outgoing edges cannot influence the result.
	for _, dep := range depIDs {
		if path := g.findPath(dep, node.ID); path != nil {
			full := append([]resource.ID{node.ID}, path...)
			return &CycleError{Path: full}
		}
	}

	v, exists := g.vertices[node.ID]
	if exists {
		for old := range g.deps[node.ID] {
			delete(g.dependents[old], node.ID)
		}
		v.node = node
	} else {
		g.vertices[node.ID] = &vertex{node: node, seq: g.nextSeq}
		g.nextSeq++
	}

	edges := make(map[resource.ID]bool, len(depIDs))
	for _, dep := range depIDs {
		edges[dep] = true
		set, ok := g.dependents[dep]
		if !ok {
			set = make(map[resource.ID]bool)
			g.dependents[dep] = set
		}
		set[node.ID] = true
	}
	g.deps[node.ID] = edges
	return nil
}

// Remove deletes a node. It refuses with DependentsExistError while other
// nodes depend on it.
func (g *Graph) Remove(id resource.ID) error {
	if _, ok := g.vertices[id]; !ok {
		return &NotFoundError{ID: id}
	}
	if deps := g.sortedEdgeSet(g.dependents[id]); len(deps) > 0 {
		return &DependentsExistError{ID: id, Dependents: deps}
	}

	for dep := range g.deps[id] {
		delete(g.dependents[dep], id)
	}
	delete(g.deps, id)
	delete(g.dependents, id)
	delete(g.vertices, id)
	return nil
}

// TopologicalOrder returns all node ids with every node after its
// dependencies. Among ready nodes the earliest-inserted goes first.
func (g *Graph) TopologicalOrder() ([]resource.ID, error) {
	inDegree := make(map[resource.ID]int, len(g.vertices))
	for id := range g.vertices {
		inDegree[id] = len(g.deps[id])
	}

	var ready []resource.ID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]resource.ID, 0, len(g.vertices))
	for len(ready) > 0 {
		g.sortBySeq(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range g.sortedEdgeSet(g.dependents[next]) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.vertices) {
		// Defensive: Insert maintains acyclicity, so this indicates
		// internal corruption. Surface the cycle instead of hanging.
		for id, deg := range inDegree {
			if deg > 0 {
				if path := g.findPath(id, id); path != nil {
					return nil, &CycleError{Path: append([]resource.ID{id}, path...)}
				}
			}
		}
		return nil, &CycleError{}
	}
	return order, nil
}

// ReverseTopologicalOrder returns the exact reverse of TopologicalOrder:
// every node before its dependencies, the teardown order.
func (g *Graph) ReverseTopologicalOrder() ([]resource.ID, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Descendants returns every transitive dependent of a node, ordered by the
// graph's topological order. This is the set to skip when the node fails.
func (g *Graph) Descendants(id resource.ID) ([]resource.ID, error) {
	if _, ok := g.vertices[id]; !ok {
		return nil, &NotFoundError{ID: id}
	}

	reached := make(map[resource.ID]bool)
	queue := []resource.ID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dependent := range g.dependents[current] {
			if !reached[dependent] {
				reached[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	result := make([]resource.ID, 0, len(reached))
	for _, oid := range order {
		if reached[oid] {
			result = append(result, oid)
		}
	}
	return result, nil
}

// Clone returns a deep copy sharing no mutable state with the original.
// Candidate desired graphs are built on clones so a rejected snapshot
// never corrupts the live graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		vertices:   make(map[resource.ID]*vertex, len(g.vertices)),
		deps:       make(map[resource.ID]map[resource.ID]bool, len(g.deps)),
		dependents: make(map[resource.ID]map[resource.ID]bool, len(g.dependents)),
		nextSeq:    g.nextSeq,
	}
	for id, v := range g.vertices {
		c.vertices[id] = &vertex{node: v.node, seq: v.seq}
	}
	for id, set := range g.deps {
		copied := make(map[resource.ID]bool, len(set))
		for dep := range set {
			copied[dep] = true
		}
		c.deps[id] = copied
	}
	for id, set := range g.dependents {
		copied := make(map[resource.ID]bool, len(set))
		for dep := range set {
			copied[dep] = true
		}
		c.dependents[id] = copied
	}
	return c
}

// findPath returns the node path from start to target along dependency
// edges, inclusive of both, or nil if target is unreachable.
func (g *Graph) findPath(start, target resource.ID) []resource.ID {
	if start == target {
		return []resource.ID{start}
	}
	visited := map[resource.ID]bool{start: true}
	var walk func(from resource.ID) []resource.ID
	walk = func(from resource.ID) []resource.ID {
		for _, dep := range g.sortedEdgeSet(g.deps[from]) {
			if dep == target {
				return []resource.ID{dep}
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if rest := walk(dep); rest != nil {
				return append([]resource.ID{dep}, rest...)
			}
		}
		return nil
	}
	rest := walk(start)
	if rest == nil {
		return nil
	}
	return append([]resource.ID{start}, rest...)
}

// sortedEdgeSet flattens an edge set into ids sorted by insertion sequence.
func (g *Graph) sortedEdgeSet(set map[resource.ID]bool) []resource.ID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]resource.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	g.sortBySeq(ids)
	return ids
}

// sortBySeq orders ids by their vertex insertion sequence.
func (g *Graph) sortBySeq(ids []resource.ID) {
	sort.Slice(ids, func(i, j int) bool {
		vi, vj := g.vertices[ids[i]], g.vertices[ids[j]]
		if vi == nil || vj == nil {
			return ids[i] < ids[j]
		}
		return vi.seq < vj.seq
	})
}
