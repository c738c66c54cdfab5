package api

import (
	"fmt"

	"github.com/noderank/noderank/internal/engine"
	"github.com/noderank/noderank/internal/graph"
)

// ComputeRequest is the submission body, shared by the HTTP endpoint and
// the websocket compute message.
type ComputeRequest struct {
	// TaskID optionally pins a caller-chosen identifier.
	TaskID     string        `json:"task_id,omitempty"`
	Algorithm  string        `json:"algorithm"`
	Backend    string        `json:"backend"`
	Graph      GraphPayload  `json:"graph"`
	Parameters ParamsPayload `json:"parameters"`
}

// GraphPayload is the parsed-graph contract: a node count, explicit edge
// pairs and the directedness flag.
type GraphPayload struct {
	NodeCount int          `json:"node_count"`
	Edges     []graph.Edge `json:"edges"`
	Directed  bool         `json:"directed"`
}

// ParamsPayload carries the per-algorithm knobs. Iterations applies to
// power iteration; walks_per_node and seed to random walk. A zero seed
// lets the engine pick one (recorded on the task).
type ParamsPayload struct {
	Alpha        float64 `json:"alpha"`
	Iterations   int     `json:"iterations,omitempty"`
	WalksPerNode int     `json:"walks_per_node,omitempty"`
	Seed         uint64  `json:"seed,omitempty"`
}

// ToEngine converts the wire request into an engine request, constructing
// and range-checking the graph.
func (r ComputeRequest) ToEngine() (engine.Request, error) {
	g, err := graph.New(r.Graph.NodeCount, r.Graph.Edges, r.Graph.Directed)
	if err != nil {
		return engine.Request{}, fmt.Errorf("api: %w", err)
	}
	return engine.Request{
		TaskID:    r.TaskID,
		Algorithm: engine.Algorithm(r.Algorithm),
		Backend:   engine.Backend(r.Backend),
		Graph:     g,
		Params: engine.Params{
			Alpha:        r.Parameters.Alpha,
			Iterations:   r.Parameters.Iterations,
			WalksPerNode: r.Parameters.WalksPerNode,
			Seed:         r.Parameters.Seed,
		},
	}, nil
}

// SubmitResponse acknowledges an accepted (or validation-failed) task.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskResponse is the JSON projection of an engine task snapshot.
type TaskResponse struct {
	TaskID        string    `json:"task_id"`
	Algorithm     string    `json:"algorithm"`
	Backend       string    `json:"backend"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Scores        []float64 `json:"scores,omitempty"`
	ComputeTimeMs float64   `json:"compute_time_ms,omitempty"`
	Seed          uint64    `json:"seed,omitempty"`
	SubmittedAt   string    `json:"submitted_at"`
	FinishedAt    string    `json:"finished_at,omitempty"`
}

// HealthResponse answers the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
