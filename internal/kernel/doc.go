// Package kernel implements the managed (in-process) PageRank kernels.
//
// Two independent estimators of the same stationary distribution are
// provided: PowerIteration, a deterministic fixed-budget sweep over the
// damped transition recurrence, and RandomWalk, a seeded Monte-Carlo
// visit-frequency estimator. Both return a score vector that sums to 1.0
// within 1e-6 with all entries non-negative.
//
// The kernels check their context between sweeps (PowerIteration) or
// between walk origins (RandomWalk) and return ErrCancelled when the task
// has been cancelled. Progress is delivered through an optional callback:
// every 10 completed iterations for PowerIteration, every contiguous 10%
// block of walk origins for RandomWalk.
//
// Both kernels require NodeCount >= 1; the engine rejects empty graphs
// before dispatch, and the division by the node count is otherwise
// unguarded here.
package kernel
