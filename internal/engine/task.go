package engine

import (
	"fmt"
	"time"

	"github.com/noderank/noderank/internal/graph"
	"github.com/noderank/noderank/internal/kernel"
)

// Algorithm selects the PageRank estimator.
type Algorithm string

// Backend selects where the estimator runs.
type Backend string

const (
	AlgoPowerIteration Algorithm = "power_iteration"
	AlgoRandomWalk     Algorithm = "random_walk"

	BackendManaged Backend = "managed"
	BackendNative  Backend = "native"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Params carries the kernel parameters of one submission. Iterations is
// read for power iteration, WalksPerNode and Seed for random walk.
type Params struct {
	Alpha        float64
	Iterations   int
	WalksPerNode int
	Seed         uint64
}

func (p Params) power() kernel.PowerParams {
	return kernel.PowerParams{Alpha: p.Alpha, Iterations: p.Iterations}
}

func (p Params) walk() kernel.WalkParams {
	return kernel.WalkParams{Alpha: p.Alpha, WalksPerNode: p.WalksPerNode, Seed: p.Seed}
}

// validate applies the per-algorithm parameter contract.
func (p Params) validate(algorithm Algorithm) error {
	switch algorithm {
	case AlgoPowerIteration:
		return p.power().Validate()
	case AlgoRandomWalk:
		return p.walk().Validate()
	default:
		return fmt.Errorf("engine: unknown algorithm %q", algorithm)
	}
}

// task is the engine's internal record of one submission. All mutable
// fields are guarded by the engine mutex.
type task struct {
	id        string
	algorithm Algorithm
	backend   Backend
	graph     *graph.Graph
	params    Params

	status      Status
	errMsg      string
	scores      []float64
	computeTime time.Duration
	submittedAt time.Time
	finishedAt  time.Time
	cancelled   bool
	cancel      func()
}

// Snapshot is the caller-visible copy of a task's state.
type Snapshot struct {
	ID            string
	Algorithm     Algorithm
	Backend       Backend
	Params        Params
	Status        Status
	Error         string
	Scores        []float64
	ComputeTimeMs float64
	SubmittedAt   time.Time
	FinishedAt    time.Time
}

func (t *task) snapshot() Snapshot {
	s := Snapshot{
		ID:            t.id,
		Algorithm:     t.algorithm,
		Backend:       t.backend,
		Params:        t.params,
		Status:        t.status,
		Error:         t.errMsg,
		ComputeTimeMs: float64(t.computeTime) / float64(time.Millisecond),
		SubmittedAt:   t.submittedAt,
		FinishedAt:    t.finishedAt,
	}
	if t.scores != nil {
		s.Scores = make([]float64, len(t.scores))
		copy(s.Scores, t.scores)
	}
	return s
}
