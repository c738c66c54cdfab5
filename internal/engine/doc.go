// Package engine schedules PageRank compute tasks.
//
// Exactly one task executes at a time on a dedicated background goroutine
// (Run). Submissions queue up to a configured depth; arbitrating beyond
// that — waiting or rejecting — is the caller's concern. Each task moves
// through a validated state machine:
//
//	Pending → Running → {Completed | Failed | Cancelled}
//
// The engine relays kernel progress as events, always in increasing order
// and always before the task's terminal result or error event; events for
// different tasks never interleave because only one task runs at a time.
//
// Cancellation marks the task immediately and stops all further event
// relay for its id. The managed kernels observe the cancelled context
// between sweeps or walk origins and stop early; a native kernel call
// cannot be interrupted and may run to completion with its output
// discarded.
//
// Tasks are removed when the caller acknowledges the terminal state (Ack)
// or, as a backstop, by a TTL eviction sweep.
package engine
