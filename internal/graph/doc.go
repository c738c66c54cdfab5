// Package graph holds the immutable graph snapshot a compute task operates
// on, plus the derived per-node structures both PageRank kernels need.
//
// A Graph is built once from parsed input via New, which range-checks every
// edge endpoint. Duplicate edges and self-loops are legal and kept as-is.
// Undirected graphs are normalized at this boundary: DirectedEdges returns
// each undirected edge in both orientations, so the kernels and the wasm ABI
// only ever see directed edge pairs.
//
// Derive computes out-degrees, adjacency lists and the dangling-node set.
// It is a pure function of the graph — callers may cache or recompute the
// result freely.
package graph
