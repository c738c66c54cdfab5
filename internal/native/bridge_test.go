package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	wapi "github.com/tetratelabs/wazero/api"

	"github.com/noderank/noderank/internal/graph"
	"github.com/noderank/noderank/internal/kernel"
)

// fakeModule is an in-memory stand-in for the wasm instance. It tracks
// every allocation and release so tests can assert the bridge never leaks
// a buffer, and it replays a canned result vector on kernel calls.
type fakeModule struct {
	mu     sync.Mutex
	nextAt uint32
	mem    map[uint32][]byte

	allocs []uint32
	frees  []uint32

	allocCalls  int
	failAllocAt int // 1-based alloc call to fail; 0 = never

	callErr error
	calls   []fakeCall
	writes  []fakeWrite

	result []float64 // written at resultPtr on a successful call
}

type fakeCall struct {
	name   string
	params []uint64
}

type fakeWrite struct {
	ptr  uint32
	data []byte
}

func newFakeModule() *fakeModule {
	return &fakeModule{nextAt: 16, mem: make(map[uint32][]byte)}
}

func (f *fakeModule) alloc(_ context.Context, size uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocCalls++
	if f.failAllocAt != 0 && f.allocCalls >= f.failAllocAt {
		return 0, errors.New("fake: out of linear memory")
	}
	ptr := f.nextAt
	f.nextAt += size + 16
	f.mem[ptr] = make([]byte, size)
	f.allocs = append(f.allocs, ptr)
	return ptr, nil
}

func (f *fakeModule) free(_ context.Context, ptr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mem[ptr]; !ok {
		return fmt.Errorf("fake: double free at %d", ptr)
	}
	delete(f.mem, ptr)
	f.frees = append(f.frees, ptr)
	return nil
}

func (f *fakeModule) write(ptr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.mem[ptr]
	if !ok || len(data) > len(buf) {
		return fmt.Errorf("fake: bad write of %d bytes at %d", len(data), ptr)
	}
	copy(buf, data)
	f.writes = append(f.writes, fakeWrite{ptr: ptr, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeModule) read(ptr uint32, size uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.mem[ptr]
	if !ok || int(size) > len(buf) {
		return nil, fmt.Errorf("fake: bad read of %d bytes at %d", size, ptr)
	}
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

func (f *fakeModule) call(_ context.Context, name string, params ...uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{name: name, params: params})
	if f.callErr != nil {
		return f.callErr
	}
	// Both kernels take the result pointer as their 7th parameter.
	resPtr := uint32(params[6])
	buf := f.mem[resPtr]
	for i, v := range f.result {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return nil
}

func (f *fakeModule) close(context.Context) error { return nil }

func (f *fakeModule) outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.allocs) - len(f.frees)
}

// fakeBridge wires a Bridge to the fake module and counts loads.
func fakeBridge(fake *fakeModule) (*Bridge, *int) {
	loads := 0
	b := New("testdata/unused.wasm")
	b.loadFn = func(context.Context) (module, error) {
		loads++
		return fake, nil
	}
	return b, &loads
}

func cycleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New(3, []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 0}}, true)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return g
}

func TestBridge_ReadsBackResultVector(t *testing.T) {
	fake := newFakeModule()
	fake.result = []float64{0.5, 0.3, 0.2}
	b, _ := fakeBridge(fake)

	scores, err := b.PowerIteration(context.Background(), cycleGraph(t),
		kernel.PowerParams{Alpha: 0.85, Iterations: 100})
	if err != nil {
		t.Fatalf("PowerIteration: %v", err)
	}
	for i, want := range fake.result {
		if scores[i] != want {
			t.Errorf("scores[%d] = %v, want %v", i, scores[i], want)
		}
	}
	if fake.outstanding() != 0 {
		t.Errorf("outstanding buffers = %d, want 0", fake.outstanding())
	}
}

func TestBridge_MarshalsEdgeBuffersLittleEndian(t *testing.T) {
	fake := newFakeModule()
	fake.result = make([]float64, 3)
	b, _ := fakeBridge(fake)

	if _, err := b.PowerIteration(context.Background(), cycleGraph(t),
		kernel.PowerParams{Alpha: 0.85, Iterations: 1}); err != nil {
		t.Fatalf("PowerIteration: %v", err)
	}

	call := fake.calls[0]
	if call.name != fnPowerIteration {
		t.Fatalf("called %q, want %q", call.name, fnPowerIteration)
	}
	srcPtr, tgtPtr := fake.allocs[0], fake.allocs[1]
	if uint32(call.params[2]) != srcPtr || uint32(call.params[3]) != tgtPtr {
		t.Errorf("edge pointers = (%d,%d), want (%d,%d)",
			uint32(call.params[2]), uint32(call.params[3]), srcPtr, tgtPtr)
	}

	// The 3-cycle 0→1→2→0 as two flat little-endian uint32 arrays.
	wantSrc := []byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0}
	wantTgt := []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}
	if len(fake.writes) != 2 {
		t.Fatalf("writes = %d, want 2 edge buffers", len(fake.writes))
	}
	if got := fake.writes[0]; got.ptr != srcPtr || !bytes.Equal(got.data, wantSrc) {
		t.Errorf("source buffer write = {%d %v}, want {%d %v}", got.ptr, got.data, srcPtr, wantSrc)
	}
	if got := fake.writes[1]; got.ptr != tgtPtr || !bytes.Equal(got.data, wantTgt) {
		t.Errorf("target buffer write = {%d %v}, want {%d %v}", got.ptr, got.data, tgtPtr, wantTgt)
	}

	if n := uint32(call.params[0]); n != 3 {
		t.Errorf("nodeCount param = %d, want 3", n)
	}
	if m := uint32(call.params[1]); m != 3 {
		t.Errorf("edgeCount param = %d, want 3", m)
	}
	if alpha := wapi.DecodeF64(call.params[4]); alpha != 0.85 {
		t.Errorf("alpha param = %v, want 0.85", alpha)
	}
}

func TestBridge_RandomWalkPassesTruncatedSeed(t *testing.T) {
	fake := newFakeModule()
	fake.result = make([]float64, 3)
	b, _ := fakeBridge(fake)

	seed := uint64(0xdeadbeef_12345678)
	if _, err := b.RandomWalk(context.Background(), cycleGraph(t),
		kernel.WalkParams{Alpha: 0.85, WalksPerNode: 10, Seed: seed}); err != nil {
		t.Fatalf("RandomWalk: %v", err)
	}
	call := fake.calls[0]
	if call.name != fnRandomWalk {
		t.Fatalf("called %q, want %q", call.name, fnRandomWalk)
	}
	if got := uint32(call.params[7]); got != uint32(seed) {
		t.Errorf("seed param = %#x, want low word %#x", got, uint32(seed))
	}
}

func TestBridge_ReleasesAllBuffersWhenKernelTraps(t *testing.T) {
	fake := newFakeModule()
	fake.callErr = errors.New("fake: unreachable executed")
	b, _ := fakeBridge(fake)

	_, err := b.PowerIteration(context.Background(), cycleGraph(t),
		kernel.PowerParams{Alpha: 0.85, Iterations: 100})
	if err == nil {
		t.Fatal("PowerIteration succeeded, want trap error")
	}
	if got := len(fake.allocs); got != 3 {
		t.Errorf("allocations = %d, want 3", got)
	}
	if fake.outstanding() != 0 {
		t.Errorf("outstanding buffers after trap = %d, want 0", fake.outstanding())
	}
}

func TestBridge_ReleasesEarlierBuffersWhenAllocationFailsMidway(t *testing.T) {
	fake := newFakeModule()
	fake.failAllocAt = 3 // result buffer allocation fails
	b, _ := fakeBridge(fake)

	_, err := b.PowerIteration(context.Background(), cycleGraph(t),
		kernel.PowerParams{Alpha: 0.85, Iterations: 100})
	if err == nil {
		t.Fatal("PowerIteration succeeded, want allocation error")
	}
	if fake.outstanding() != 0 {
		t.Errorf("outstanding buffers after failed alloc = %d, want 0", fake.outstanding())
	}
	if len(fake.calls) != 0 {
		t.Errorf("kernel invoked %d times after failed alloc, want 0", len(fake.calls))
	}
}

func TestBridge_ZeroEdgesAllocatesEmptyIndexBuffers(t *testing.T) {
	fake := newFakeModule()
	fake.result = make([]float64, 5)
	b, _ := fakeBridge(fake)

	g, err := graph.New(5, nil, true)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	if _, err := b.PowerIteration(context.Background(), g,
		kernel.PowerParams{Alpha: 0.85, Iterations: 10}); err != nil {
		t.Fatalf("PowerIteration: %v", err)
	}
	if m := uint32(fake.calls[0].params[1]); m != 0 {
		t.Errorf("edgeCount param = %d, want 0", m)
	}
	if fake.outstanding() != 0 {
		t.Errorf("outstanding buffers = %d, want 0", fake.outstanding())
	}
}

func TestBridge_SecondCallReusesCachedModule(t *testing.T) {
	fake := newFakeModule()
	fake.result = make([]float64, 3)
	b, loads := fakeBridge(fake)

	g := cycleGraph(t)
	p := kernel.PowerParams{Alpha: 0.85, Iterations: 10}
	if _, err := b.PowerIteration(context.Background(), g, p); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := b.PowerIteration(context.Background(), g, p); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if *loads != 1 {
		t.Errorf("module loads = %d, want 1 (cached handle reused)", *loads)
	}
}

func TestBridge_LoadFailureIsNotCached(t *testing.T) {
	fake := newFakeModule()
	fake.result = make([]float64, 3)
	loads := 0
	b := New("testdata/unused.wasm")
	b.loadFn = func(context.Context) (module, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("fake: fetch failed")
		}
		return fake, nil
	}

	g := cycleGraph(t)
	p := kernel.PowerParams{Alpha: 0.85, Iterations: 10}
	if _, err := b.PowerIteration(context.Background(), g, p); err == nil {
		t.Fatal("first call succeeded, want load error")
	}
	if _, err := b.PowerIteration(context.Background(), g, p); err != nil {
		t.Fatalf("retry after load failure: %v", err)
	}
	if loads != 2 {
		t.Errorf("module loads = %d, want 2 (failure retried, success cached)", loads)
	}
}

func TestBridge_ConcurrentCallersShareOneLoad(t *testing.T) {
	fake := newFakeModule()
	loads := 0
	release := make(chan struct{})
	b := New("testdata/unused.wasm")
	b.loadFn = func(context.Context) (module, error) {
		loads++
		<-release
		return fake, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Ensure(context.Background()); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond) // let all callers reach the wait
	close(release)
	wg.Wait()

	if loads != 1 {
		t.Errorf("module loads = %d, want 1 shared in-flight load", loads)
	}
}
