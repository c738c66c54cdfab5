package kernel

import (
	"errors"
	"fmt"
	"math"
)

// ErrCancelled is returned by a kernel that observed context cancellation
// between sweeps or walk origins.
var ErrCancelled = errors.New("kernel: cancelled")

// SumTolerance is the allowed drift of a score vector's sum from 1.0
// before it is rescaled.
const SumTolerance = 1e-6

// ProgressFunc receives completion percentage in [0,100] and a short
// human-readable phase label. Implementations must be fast; kernels call
// it from their hot path boundaries.
type ProgressFunc func(percent float64, message string)

// PowerParams configures the PowerIteration kernel.
type PowerParams struct {
	// Alpha is the damping factor, strictly inside (0,1).
	Alpha float64

	// Iterations is the fixed sweep budget. The kernel always runs the
	// full budget; there is no convergence early-exit.
	Iterations int
}

// Validate rejects parameters the kernels cannot accept.
func (p PowerParams) Validate() error {
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("kernel: alpha %v outside (0,1)", p.Alpha)
	}
	if p.Iterations < 1 {
		return fmt.Errorf("kernel: iterations %d must be positive", p.Iterations)
	}
	return nil
}

// WalkParams configures the RandomWalk kernel.
type WalkParams struct {
	// Alpha is the walk continuation probability, strictly inside (0,1).
	Alpha float64

	// WalksPerNode is the number of independent walks started from every
	// node.
	WalksPerNode int

	// Seed selects the pseudo-random stream. Equal seeds give
	// bit-identical results.
	Seed uint64
}

// Validate rejects parameters the kernels cannot accept.
func (p WalkParams) Validate() error {
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("kernel: alpha %v outside (0,1)", p.Alpha)
	}
	if p.WalksPerNode < 1 {
		return fmt.Errorf("kernel: walks per node %d must be positive", p.WalksPerNode)
	}
	return nil
}

// rescale restores the sum-to-one invariant when floating-point drift has
// pushed the total more than SumTolerance away from 1.0. This compensates
// accumulation error only; it is not part of the algorithm.
func rescale(scores []float64) {
	var sum float64
	for _, v := range scores {
		sum += v
	}
	if math.Abs(sum-1.0) <= SumTolerance {
		return
	}
	for i := range scores {
		scores[i] /= sum
	}
}
