// Package native executes the compiled PageRank kernels inside a
// WebAssembly module hosted by wazero.
//
// The Bridge owns the module lifecycle: the first caller triggers an
// asynchronous load, concurrent callers share that in-flight load, and the
// compiled instance is cached for every later task. A failed load is not
// cached — the next task retries. The load latency is tracked separately
// from compute time.
//
// Per invocation the bridge allocates three buffers in the module's linear
// memory (edge sources, edge targets, result), writes the edge pairs,
// calls the exported kernel, reads the result vector back, and frees all
// three buffers on every exit path — linear memory is not garbage
// collected, so release is explicit and scoped to the call.
//
// A running kernel call cannot be interrupted: cancellation takes effect
// only at the task boundary, and a cancelled task's native computation may
// run to completion with its output discarded. Tearing down the hosting
// runtime is the only harder stop.
package native
