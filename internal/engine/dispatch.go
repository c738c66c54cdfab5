package engine

import (
	"context"

	"github.com/noderank/noderank/internal/kernel"
)

// capability keys the dispatch table on the orthogonal algorithm/backend
// pair, so adding an algorithm or a backend never multiplies switch arms.
type capability struct {
	algorithm Algorithm
	backend   Backend
}

type runFunc func(ctx context.Context, e *Engine, t *task, progress kernel.ProgressFunc) ([]float64, error)

var runners = map[capability]runFunc{
	{AlgoPowerIteration, BackendManaged}: func(ctx context.Context, _ *Engine, t *task, progress kernel.ProgressFunc) ([]float64, error) {
		return kernel.PowerIteration(ctx, t.graph, t.graph.Derive(), t.params.power(), progress)
	},
	{AlgoRandomWalk, BackendManaged}: func(ctx context.Context, _ *Engine, t *task, progress kernel.ProgressFunc) ([]float64, error) {
		return kernel.RandomWalk(ctx, t.graph, t.graph.Derive(), t.params.walk(), progress)
	},
	{AlgoPowerIteration, BackendNative}: func(ctx context.Context, e *Engine, t *task, progress kernel.ProgressFunc) ([]float64, error) {
		// The compiled kernel reports no progress mid-call; label the
		// single opaque phase.
		progress(0, "executing native kernel")
		return e.bridge.PowerIteration(ctx, t.graph, t.params.power())
	},
	{AlgoRandomWalk, BackendNative}: func(ctx context.Context, e *Engine, t *task, progress kernel.ProgressFunc) ([]float64, error) {
		progress(0, "executing native kernel")
		return e.bridge.RandomWalk(ctx, t.graph, t.params.walk())
	},
}
