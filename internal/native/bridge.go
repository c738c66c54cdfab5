package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	wapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/noderank/noderank/internal/graph"
	"github.com/noderank/noderank/internal/kernel"
)

// Bridge runs the compiled kernels. Create one per engine with New and
// tear it down with Close when the engine stops; the loaded module is
// shared across sequential tasks and is never reset implicitly.
type Bridge struct {
	modulePath string

	// loadFn performs one module load. Overridable in tests.
	loadFn func(ctx context.Context) (module, error)

	mu       sync.Mutex
	mod      module        // non-nil once a load has succeeded
	loading  chan struct{} // non-nil while a load is in flight
	loadTime time.Duration
	loads    int
}

// New creates a Bridge that lazily loads the wasm kernel at modulePath.
func New(modulePath string) *Bridge {
	b := &Bridge{modulePath: modulePath}
	b.loadFn = b.loadWasm
	return b
}

// Ensure loads the kernel module if it is not already resident. Concurrent
// callers share a single in-flight load. A load failure is returned and
// not cached, so the next call retries.
func (b *Bridge) Ensure(ctx context.Context) error {
	_, err := b.ensure(ctx)
	return err
}

// LoadTime returns the wall-clock duration of the successful module load,
// or zero if no load has completed. It is measured apart from compute time
// so one-time load latency never counts against a task.
func (b *Bridge) LoadTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadTime
}

// Close releases the loaded module and its runtime, if any.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	mod := b.mod
	b.mod = nil
	b.mu.Unlock()
	if mod == nil {
		return nil
	}
	return mod.close(ctx)
}

// PowerIteration runs the compiled power-iteration kernel over g.
func (b *Bridge) PowerIteration(ctx context.Context, g *graph.Graph, p kernel.PowerParams) ([]float64, error) {
	return b.run(ctx, g, func(ctx context.Context, m module, n, edgeCount int32, srcPtr, tgtPtr, resPtr uint32) error {
		return m.call(ctx, fnPowerIteration,
			uint64(uint32(n)), uint64(uint32(edgeCount)),
			uint64(srcPtr), uint64(tgtPtr),
			wapi.EncodeF64(p.Alpha), uint64(uint32(int32(p.Iterations))),
			uint64(resPtr))
	})
}

// RandomWalk runs the compiled random-walk kernel over g. The kernel ABI
// takes a 32-bit seed; p.Seed is truncated to its low word.
func (b *Bridge) RandomWalk(ctx context.Context, g *graph.Graph, p kernel.WalkParams) ([]float64, error) {
	return b.run(ctx, g, func(ctx context.Context, m module, n, edgeCount int32, srcPtr, tgtPtr, resPtr uint32) error {
		return m.call(ctx, fnRandomWalk,
			uint64(uint32(n)), uint64(uint32(edgeCount)),
			uint64(srcPtr), uint64(tgtPtr),
			wapi.EncodeF64(p.Alpha), uint64(uint32(int32(p.WalksPerNode))),
			uint64(resPtr), uint64(uint32(p.Seed)))
	})
}

// run marshals the graph into linear memory, invokes the kernel and reads
// the score vector back. All buffers obtained are freed on every exit
// path, including a failed allocation midway and a trapped call.
func (b *Bridge) run(ctx context.Context, g *graph.Graph, invoke func(ctx context.Context, m module, n, edgeCount int32, srcPtr, tgtPtr, resPtr uint32) error) ([]float64, error) {
	mod, err := b.ensure(ctx)
	if err != nil {
		return nil, err
	}

	edges := g.DirectedEdges()
	n := int32(g.NodeCount())
	edgeCount := int32(len(edges))

	var held []uint32
	defer func() {
		for _, ptr := range held {
			if err := mod.free(ctx, ptr); err != nil {
				slog.Warn("native: buffer release failed", "ptr", ptr, "err", err)
			}
		}
	}()

	acquire := func(size uint32) (uint32, error) {
		ptr, err := mod.alloc(ctx, size)
		if err != nil {
			return 0, err
		}
		held = append(held, ptr)
		return ptr, nil
	}

	// Edge index buffers: edgeCount * 4 bytes each. Zero edges are valid
	// and produce zero-sized buffers.
	sources := make([]byte, 4*len(edges))
	targets := make([]byte, 4*len(edges))
	for i, e := range edges {
		binary.LittleEndian.PutUint32(sources[4*i:], uint32(e.Source))
		binary.LittleEndian.PutUint32(targets[4*i:], uint32(e.Target))
	}

	srcPtr, err := acquire(uint32(len(sources)))
	if err != nil {
		return nil, err
	}
	tgtPtr, err := acquire(uint32(len(targets)))
	if err != nil {
		return nil, err
	}
	resPtr, err := acquire(uint32(8 * n))
	if err != nil {
		return nil, err
	}

	if err := mod.write(srcPtr, sources); err != nil {
		return nil, err
	}
	if err := mod.write(tgtPtr, targets); err != nil {
		return nil, err
	}

	if err := invoke(ctx, mod, n, edgeCount, srcPtr, tgtPtr, resPtr); err != nil {
		return nil, err
	}

	raw, err := mod.read(resPtr, uint32(8*n))
	if err != nil {
		return nil, err
	}
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return scores, nil
}

// ensure returns the resident module, sharing one in-flight load between
// concurrent callers.
func (b *Bridge) ensure(ctx context.Context) (module, error) {
	b.mu.Lock()
	for {
		if b.mod != nil {
			b.mu.Unlock()
			return b.mod, nil
		}
		if b.loading == nil {
			break
		}
		wait := b.loading
		b.mu.Unlock()
		select {
		case <-wait:
			b.mu.Lock()
			// A failed load leaves b.mod nil; loop and start our own.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	done := make(chan struct{})
	b.loading = done
	b.loads++
	b.mu.Unlock()

	start := time.Now()
	mod, err := b.loadFn(ctx)
	elapsed := time.Since(start)

	b.mu.Lock()
	b.loading = nil
	close(done)
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("native: load module: %w", err)
	}
	b.mod = mod
	b.loadTime = elapsed
	b.mu.Unlock()

	slog.Info("native: kernel module loaded", "path", b.modulePath, "load_ms", elapsed.Milliseconds())
	return mod, nil
}

// loadWasm reads the wasm binary and instantiates it under a fresh wazero
// runtime with WASI imports (the kernel is built with a standalone
// emscripten target).
func (b *Bridge) loadWasm(ctx context.Context) (module, error) {
	bin, err := os.ReadFile(b.modulePath)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", b.modulePath, err)
	}

	rt := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	mod, err := rt.Instantiate(ctx, bin)
	if err != nil {
		rt.Close(ctx) //nolint:errcheck
		return nil, fmt.Errorf("instantiate %q: %w", b.modulePath, err)
	}

	for _, name := range []string{fnPowerIteration, fnRandomWalk, fnMalloc, fnFree} {
		if mod.ExportedFunction(name) == nil {
			rt.Close(ctx) //nolint:errcheck
			return nil, fmt.Errorf("module %q exports no %q", b.modulePath, name)
		}
	}

	return &wasmModule{mod: mod, closer: rt.Close}, nil
}
