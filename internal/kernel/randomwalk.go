package kernel

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/noderank/noderank/internal/graph"
)

// seedMix decorrelates the two PCG stream words derived from one seed.
const seedMix = 0x9e3779b97f4a7c15

// RandomWalk estimates PageRank by visit frequency over independent random
// walks. Every node starts p.WalksPerNode walks. A walk records a visit to
// its current node, then while a uniform draw is below alpha it either
// teleports to a uniformly random node and stops (when the current node is
// dangling) or moves to a uniformly random out-neighbor; each move records
// a visit. Every walk records at least its start, so the visit total is
// positive for any valid input; an all-zero counter vector still falls back
// to the uniform distribution.
//
// The estimator is seeded: equal WalkParams on the same graph give
// bit-identical results. Accuracy grows with WalksPerNode, but two runs
// with different seeds will differ — that is inherent, not a defect.
//
// The context is checked between walk origins; a cancelled context yields
// ErrCancelled and no result.
func RandomWalk(ctx context.Context, g *graph.Graph, d *graph.Derived, p WalkParams, progress ProgressFunc) ([]float64, error) {
	n := g.NodeCount()
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^seedMix))

	visits := make([]uint64, n)
	block := n/10 + 1 // origins per progress report

	for origin := 0; origin < n; origin++ {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		default:
		}

		for w := 0; w < p.WalksPerNode; w++ {
			cur := int32(origin)
			visits[cur]++
			for rng.Float64() < p.Alpha {
				neighbors := d.Adjacency[cur]
				if len(neighbors) == 0 {
					cur = int32(rng.IntN(n))
					visits[cur]++
					break
				}
				cur = neighbors[rng.IntN(len(neighbors))]
				visits[cur]++
			}
		}

		if done := origin + 1; done%block == 0 && progress != nil {
			progress(float64(done)/float64(n)*100,
				fmt.Sprintf("walked %d/%d origins", done, n))
		}
	}

	return scoresFromVisits(visits), nil
}

// scoresFromVisits normalizes raw visit counters into a score vector.
// A zero total falls back to the uniform distribution.
func scoresFromVisits(visits []uint64) []float64 {
	n := len(visits)
	scores := make([]float64, n)

	var total uint64
	for _, c := range visits {
		total += c
	}
	if total == 0 {
		for i := range scores {
			scores[i] = 1.0 / float64(n)
		}
		return scores
	}

	tf := float64(total)
	for i, c := range visits {
		scores[i] = float64(c) / tf
	}
	rescale(scores)
	return scores
}
