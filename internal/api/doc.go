// Package api implements the HTTP surface for noderankd.
//
// Endpoints under /api/v1:
//
//	POST /api/v1/compute           — submit a compute task (202 + task id)
//	GET  /api/v1/tasks/{id}        — task status, scores when completed
//	POST /api/v1/tasks/{id}/cancel — request cancellation
//	POST /api/v1/tasks/{id}/ack    — acknowledge a terminal task
//	GET  /api/v1/health            — liveness probe
//	GET  /metrics                  — Prometheus text exposition
//
// The handler owns the graph-boundary validation: node/edge limits from
// config (hot-reloadable) and edge index range checks, so the engine only
// ever sees well-formed graphs. A submission while the engine queue is
// full gets 409 — retrying is the caller's choice, per the single-flight
// design.
package api
