// Package ws implements the websocket session protocol for noderankd.
//
// The Hub manages connected clients and relays the engine's event stream
// to all of them; clients filter by task id. Inbound messages drive the
// engine:
//
//	{ "type": "compute", "task_id"?, "algorithm", "backend",
//	  "graph": {...}, "parameters": {...} }
//	{ "type": "cancel", "task_id" }
//
// Outbound messages mirror the engine events, plus a submission receipt:
//
//	{ "type": "accepted", "task_id" }
//	{ "type": "progress", "task_id", "percent", "message"? }
//	{ "type": "result",   "task_id", "scores": [...], "compute_time_ms" }
//	{ "type": "error",    "task_id", "message" }
//
// Progress messages for a task arrive in increasing order and always
// before its result or error; messages for different tasks never
// interleave because the engine runs one task at a time. After a cancel,
// no further messages for that task id are relayed.
//
// The upgrader accepts all origins; apply CORS at the reverse proxy.
// The endpoint is mounted at /ws/compute by the server.
package ws
