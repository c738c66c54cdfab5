// Package metrics tracks engine task counters and renders them in the
// Prometheus text exposition format for GET /metrics.
//
// Counters are labelled by algorithm so power-iteration and random-walk
// traffic can be told apart. The registry is safe for concurrent use.
package metrics
