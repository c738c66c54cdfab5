package graph

import (
	"errors"
	"fmt"
)

// ErrNoNodes is returned when a graph with zero nodes is constructed.
// Both kernels divide by the node count, so empty graphs are rejected
// here, before any kernel can see one.
var ErrNoNodes = errors.New("graph: node count must be at least 1")

// Edge is a single directed source→target pair. Endpoints are int32 to
// match the compiled kernel's edge-buffer layout exactly.
type Edge struct {
	Source int32 `json:"source"`
	Target int32 `json:"target"`
}

// Graph is an immutable node/edge snapshot for one compute task.
type Graph struct {
	nodeCount int
	edges     []Edge
	directed  bool
}

// New builds a Graph from parsed input, range-checking every edge endpoint.
// Duplicate edges and self-loops are permitted and not deduplicated.
func New(nodeCount int, edges []Edge, directed bool) (*Graph, error) {
	if nodeCount < 1 {
		return nil, ErrNoNodes
	}
	for i, e := range edges {
		if e.Source < 0 || int(e.Source) >= nodeCount {
			return nil, fmt.Errorf("graph: edge %d: source %d out of range [0,%d)", i, e.Source, nodeCount)
		}
		if e.Target < 0 || int(e.Target) >= nodeCount {
			return nil, fmt.Errorf("graph: edge %d: target %d out of range [0,%d)", i, e.Target, nodeCount)
		}
	}
	g := &Graph{
		nodeCount: nodeCount,
		edges:     make([]Edge, len(edges)),
		directed:  directed,
	}
	copy(g.edges, edges)
	return g, nil
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return g.nodeCount }

// EdgeCount returns the number of edges as given, before any undirected
// expansion.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Directed reports whether the edges are directed.
func (g *Graph) Directed() bool { return g.directed }

// DirectedEdges returns the edge list both backends consume. For a directed
// graph this is the edge list as given; for an undirected graph every edge
// appears in both orientations. Callers must not modify the returned slice.
func (g *Graph) DirectedEdges() []Edge {
	if g.directed {
		return g.edges
	}
	out := make([]Edge, 0, 2*len(g.edges))
	for _, e := range g.edges {
		out = append(out, e, Edge{Source: e.Target, Target: e.Source})
	}
	return out
}

// Derived holds the per-node structures computed from the directed edge
// view. It is owned by the compute task that derived it.
type Derived struct {
	// OutDegree[i] is the number of directed edges leaving node i.
	OutDegree []int32

	// Adjacency[i] lists the targets of node i's outgoing edges, in edge
	// order. len(Adjacency[i]) == OutDegree[i].
	Adjacency [][]int32

	// Dangling lists the nodes with zero out-degree, ascending.
	Dangling []int32
}

// Derive computes out-degrees, adjacency lists and the dangling-node set.
// Pure and idempotent: repeated calls return equal results.
func (g *Graph) Derive() *Derived {
	edges := g.DirectedEdges()

	outDegree := make([]int32, g.nodeCount)
	for _, e := range edges {
		outDegree[e.Source]++
	}

	adjacency := make([][]int32, g.nodeCount)
	for i, deg := range outDegree {
		if deg > 0 {
			adjacency[i] = make([]int32, 0, deg)
		}
	}
	for _, e := range edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	var dangling []int32
	for i, deg := range outDegree {
		if deg == 0 {
			dangling = append(dangling, int32(i))
		}
	}

	return &Derived{
		OutDegree: outDegree,
		Adjacency: adjacency,
		Dangling:  dangling,
	}
}
