package kernel

import (
	"context"
	"fmt"

	"github.com/noderank/noderank/internal/graph"
)

// progressEvery is the sweep interval between progress reports.
const progressEvery = 10

// PowerIteration computes PageRank by running exactly p.Iterations damped
// sweeps over the transition recurrence:
//
//	next[i]       = (1-alpha)/n + alpha*danglingSum/n
//	next[target] += alpha * pr[source] / outDegree[source]   for every edge
//
// Dangling mass is redistributed uniformly rather than lost. The iteration
// count is a fixed budget: the kernel never stops early on convergence, so
// cost is predictable for a given budget.
//
// The context is checked between sweeps; a cancelled context yields
// ErrCancelled and no result.
func PowerIteration(ctx context.Context, g *graph.Graph, d *graph.Derived, p PowerParams, progress ProgressFunc) ([]float64, error) {
	n := g.NodeCount()
	nf := float64(n)
	edges := g.DirectedEdges()

	pr := make([]float64, n)
	next := make([]float64, n)
	for i := range pr {
		pr[i] = 1.0 / nf
	}

	teleport := (1.0 - p.Alpha) / nf

	for iter := 0; iter < p.Iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		default:
		}

		var danglingSum float64
		for _, node := range d.Dangling {
			danglingSum += pr[node]
		}
		base := teleport + p.Alpha*danglingSum/nf
		for i := range next {
			next[i] = base
		}

		for _, e := range edges {
			next[e.Target] += p.Alpha * pr[e.Source] / float64(d.OutDegree[e.Source])
		}

		pr, next = next, pr

		if done := iter + 1; done%progressEvery == 0 && progress != nil {
			progress(float64(done)/float64(p.Iterations)*100,
				fmt.Sprintf("iteration %d/%d", done, p.Iterations))
		}
	}

	rescale(pr)
	return pr, nil
}
