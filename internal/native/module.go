package native

import (
	"context"
	"fmt"

	wapi "github.com/tetratelabs/wazero/api"
)

// Exported symbol names of the compiled kernel. The call signatures are a
// fixed ABI shared with the wasm binary:
//
//	powerIteration(i32 nodes, i32 edges, i32 srcPtr, i32 tgtPtr,
//	               f64 alpha, i32 iterations, i32 resultPtr)
//	randomWalk(i32 nodes, i32 edges, i32 srcPtr, i32 tgtPtr,
//	           f64 alpha, i32 walksPerNode, i32 resultPtr, i32 seed)
//
// Both write exactly `nodes` float64 values at resultPtr.
const (
	fnPowerIteration = "powerIteration"
	fnRandomWalk     = "randomWalk"
	fnMalloc         = "malloc"
	fnFree           = "free"
)

// module is the narrow surface the bridge needs from a loaded kernel
// instance. It exists so the marshal/invoke/release discipline is testable
// without a real wasm binary.
type module interface {
	// alloc reserves size bytes of linear memory and returns its offset.
	alloc(ctx context.Context, size uint32) (uint32, error)

	// free releases a previously allocated offset.
	free(ctx context.Context, ptr uint32) error

	// write copies data into linear memory at ptr.
	write(ptr uint32, data []byte) error

	// read copies size bytes of linear memory starting at ptr.
	read(ptr uint32, size uint32) ([]byte, error)

	// call invokes an exported kernel function. Parameters follow the
	// wasm calling convention: one uint64 per i32/f64 value.
	call(ctx context.Context, name string, params ...uint64) error

	// close releases the instance and its runtime.
	close(ctx context.Context) error
}

// wasmModule adapts a wazero module instance to the module interface.
type wasmModule struct {
	mod    wapi.Module
	closer func(context.Context) error
}

func (w *wasmModule) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := w.mod.ExportedFunction(fnMalloc).Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("native: malloc(%d): %w", size, err)
	}
	ptr := uint32(results[0])
	if ptr == 0 && size > 0 {
		return 0, fmt.Errorf("native: malloc(%d): out of linear memory", size)
	}
	return ptr, nil
}

func (w *wasmModule) free(ctx context.Context, ptr uint32) error {
	if _, err := w.mod.ExportedFunction(fnFree).Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("native: free(%d): %w", ptr, err)
	}
	return nil
}

func (w *wasmModule) write(ptr uint32, data []byte) error {
	if !w.mod.Memory().Write(ptr, data) {
		return fmt.Errorf("native: write %d bytes at %d: out of range", len(data), ptr)
	}
	return nil
}

func (w *wasmModule) read(ptr uint32, size uint32) ([]byte, error) {
	data, ok := w.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("native: read %d bytes at %d: out of range", size, ptr)
	}
	// The view aliases linear memory; copy before the next call can move it.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (w *wasmModule) call(ctx context.Context, name string, params ...uint64) error {
	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("native: module exports no %q", name)
	}
	if _, err := fn.Call(ctx, params...); err != nil {
		return fmt.Errorf("native: %s: %w", name, err)
	}
	return nil
}

func (w *wasmModule) close(ctx context.Context) error {
	if w.closer == nil {
		return nil
	}
	return w.closer(ctx)
}
