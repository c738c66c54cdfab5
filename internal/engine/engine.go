package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noderank/noderank/internal/graph"
	"github.com/noderank/noderank/internal/kernel"
	"github.com/noderank/noderank/internal/metrics"
)

// ErrBusy is returned by Submit when the task queue is full. Whether to
// wait and retry or give up is the caller's decision.
var ErrBusy = errors.New("engine: task queue full")

// ErrNotFound is returned when a task id is unknown (possibly already
// acknowledged or evicted).
var ErrNotFound = errors.New("engine: task not found")

// Defaults applied when Options fields are zero.
const (
	DefaultQueueDepth  = 4
	DefaultTaskTTL     = 10 * time.Minute
	DefaultEventBuffer = 64

	evictInterval = 30 * time.Second
)

// NativeBridge is the surface the engine needs from the wasm bridge.
type NativeBridge interface {
	Ensure(ctx context.Context) error
	PowerIteration(ctx context.Context, g *graph.Graph, p kernel.PowerParams) ([]float64, error)
	RandomWalk(ctx context.Context, g *graph.Graph, p kernel.WalkParams) ([]float64, error)
}

// Options tunes the engine. Zero fields take the package defaults.
type Options struct {
	// QueueDepth bounds how many accepted tasks may wait behind the one
	// that is running.
	QueueDepth int

	// TaskTTL is how long a terminal task is kept for pickup before the
	// eviction sweep removes it.
	TaskTTL time.Duration

	// EventBuffer is the event channel capacity. Progress events are
	// dropped when the consumer falls this far behind; terminal events
	// are never dropped.
	EventBuffer int
}

// Request is one compute submission.
type Request struct {
	// TaskID optionally carries a caller-assigned identifier, as the
	// message protocol allows. Empty means the engine assigns one.
	TaskID    string
	Algorithm Algorithm
	Backend   Backend
	Graph     *graph.Graph
	Params    Params
}

// Engine runs compute tasks one at a time on a background goroutine and
// streams progress/result/error events to its consumer.
type Engine struct {
	bridge  NativeBridge
	reg     *metrics.Registry
	queue   chan *task
	events  chan Event
	taskTTL time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*task
}

// New creates an Engine. bridge may be nil when no native module is
// configured; native submissions then fail at validation. reg may be nil
// to disable metrics.
func New(bridge NativeBridge, reg *metrics.Registry, opts Options) *Engine {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = DefaultTaskTTL
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Engine{
		bridge:  bridge,
		reg:     reg,
		queue:   make(chan *task, opts.QueueDepth),
		events:  make(chan Event, opts.EventBuffer),
		taskTTL: opts.TaskTTL,
		now:     time.Now,
		tasks:   make(map[string]*task),
	}
}

// Events returns the engine→caller message stream. Progress events for a
// task arrive in increasing order and always before its terminal event.
func (e *Engine) Events() <-chan Event { return e.events }

// Run executes queued tasks until ctx is cancelled. It is the only
// goroutine that touches kernels, so tasks never overlap.
func (e *Engine) Run(ctx context.Context) {
	evict := time.NewTicker(evictInterval)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopping")
			return
		case <-evict.C:
			e.evictExpired()
		case t := <-e.queue:
			e.runTask(ctx, t)
		}
	}
}

// Submit validates and enqueues a compute request, returning the task id.
// A validation failure stores the task in the Failed state, emits its
// error event, and returns the cause so synchronous callers can reject
// immediately. ErrBusy means the request was not accepted at all.
func (e *Engine) Submit(req Request) (string, error) {
	id := req.TaskID
	if id == "" {
		id = uuid.NewString()
	}

	t := &task{
		id:          id,
		algorithm:   req.Algorithm,
		backend:     req.Backend,
		graph:       req.Graph,
		params:      req.Params,
		status:      StatusPending,
		submittedAt: e.now(),
	}

	// A zero seed means "pick one": recorded on the task so any run can
	// be replayed exactly.
	if req.Algorithm == AlgoRandomWalk && t.params.Seed == 0 {
		t.params.Seed = rand.Uint64() | 1
	}

	if err := e.validate(t); err != nil {
		t.status = StatusFailed
		t.errMsg = err.Error()
		t.finishedAt = e.now()
		e.storeTask(t)
		e.reg.TaskFailed(string(t.algorithm))
		e.emitTerminal(Event{Type: EventError, TaskID: id, Message: err.Error()})
		return id, err
	}

	e.storeTask(t)
	select {
	case e.queue <- t:
	default:
		e.removeTask(id)
		return "", ErrBusy
	}

	e.reg.TaskSubmitted(string(t.algorithm))
	slog.Info("engine: task queued",
		"task", id, "algorithm", t.algorithm, "backend", t.backend,
		"nodes", t.graph.NodeCount(), "edges", t.graph.EdgeCount())
	return id, nil
}

// Cancel marks the task cancelled, stops relaying its events, and signals
// its context. A managed kernel stops at its next checkpoint; a native
// call runs to completion with its output discarded.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if IsTerminal(t.status) {
		e.mu.Unlock()
		return fmt.Errorf("engine: task %s already %s", id, t.status)
	}
	t.cancelled = true
	t.status = StatusCancelled
	t.finishedAt = e.now()
	cancel := t.cancel
	algo := t.algorithm
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.reg.TaskCancelled(string(algo))
	slog.Info("engine: task cancelled", "task", id)
	return nil
}

// Ack removes a terminal task once the caller has consumed its outcome.
func (e *Engine) Ack(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !IsTerminal(t.status) {
		return fmt.Errorf("engine: task %s still %s", id, t.status)
	}
	delete(e.tasks, id)
	return nil
}

// Get returns a copy of the task's current state.
func (e *Engine) Get(id string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// --- internal ---------------------------------------------------------------

func (e *Engine) validate(t *task) error {
	if t.graph == nil {
		return errors.New("engine: no graph supplied")
	}
	if _, ok := runners[capability{t.algorithm, t.backend}]; !ok {
		return fmt.Errorf("engine: no runner for algorithm %q on backend %q", t.algorithm, t.backend)
	}
	if t.backend == BackendNative && e.bridge == nil {
		return errors.New("engine: native backend not configured")
	}
	return e.paramsFor(t)
}

func (e *Engine) paramsFor(t *task) error {
	return t.params.validate(t.algorithm)
}

func (e *Engine) runTask(ctx context.Context, t *task) {
	e.mu.Lock()
	if t.cancelled {
		// Cancelled while queued; never ran.
		e.mu.Unlock()
		return
	}
	if !allowedTransition(t.status, StatusRunning) {
		e.mu.Unlock()
		slog.Error("engine: invalid start transition", "task", t.id, "from", t.status)
		return
	}
	t.status = StatusRunning
	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	run := runners[capability{t.algorithm, t.backend}]

	// One-time module load happens before the clock starts, so load
	// latency never counts as compute time.
	if t.backend == BackendNative {
		if err := e.bridge.Ensure(taskCtx); err != nil {
			e.finishErr(t, err)
			return
		}
	}

	progress := func(percent float64, message string) {
		if e.isCancelled(t) {
			return
		}
		e.emitProgress(Event{Type: EventProgress, TaskID: t.id, Percent: percent, Message: message})
	}

	start := e.now()
	scores, err := run(taskCtx, e, t, progress)
	elapsed := e.now().Sub(start)

	if e.isCancelled(t) {
		// Outputs of a cancelled task are discarded, whether the kernel
		// stopped at a checkpoint or ran to completion.
		slog.Info("engine: discarding output of cancelled task", "task", t.id)
		return
	}

	switch {
	case errors.Is(err, kernel.ErrCancelled):
		// Engine shutdown cancelled the parent context mid-task.
		e.finish(t, StatusCancelled)
	case err != nil:
		e.finishErr(t, err)
	default:
		e.mu.Lock()
		t.status = StatusCompleted
		t.scores = scores
		t.computeTime = elapsed
		t.finishedAt = e.now()
		e.mu.Unlock()
		computeMs := float64(elapsed) / float64(time.Millisecond)
		e.reg.TaskCompleted(string(t.algorithm), computeMs)
		slog.Info("engine: task completed", "task", t.id, "compute_ms", computeMs)
		e.emitTerminal(Event{
			Type:          EventResult,
			TaskID:        t.id,
			Percent:       100,
			Scores:        scores,
			ComputeTimeMs: computeMs,
		})
	}
}

func (e *Engine) finishErr(t *task, err error) {
	e.mu.Lock()
	t.status = StatusFailed
	t.errMsg = err.Error()
	t.finishedAt = e.now()
	e.mu.Unlock()
	e.reg.TaskFailed(string(t.algorithm))
	slog.Warn("engine: task failed", "task", t.id, "err", err)
	e.emitTerminal(Event{Type: EventError, TaskID: t.id, Message: err.Error()})
}

func (e *Engine) finish(t *task, s Status) {
	e.mu.Lock()
	t.status = s
	t.finishedAt = e.now()
	e.mu.Unlock()
}

func (e *Engine) isCancelled(t *task) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return t.cancelled
}

func (e *Engine) storeTask(t *task) {
	e.mu.Lock()
	e.tasks[t.id] = t
	e.mu.Unlock()
}

func (e *Engine) removeTask(id string) {
	e.mu.Lock()
	delete(e.tasks, id)
	e.mu.Unlock()
}

// emitProgress drops the event when the consumer has fallen behind;
// losing a progress tick never loses an outcome.
func (e *Engine) emitProgress(ev Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("engine: progress event dropped", "task", ev.TaskID, "percent", ev.Percent)
	}
}

// emitTerminal always delivers: result and error events carry the task
// outcome and must arrive after any progress for the same task.
func (e *Engine) emitTerminal(ev Event) {
	e.events <- ev
}

// evictExpired removes terminal tasks whose TTL has lapsed — the backstop
// for callers that never acknowledge.
func (e *Engine) evictExpired() {
	cutoff := e.now().Add(-e.taskTTL)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.tasks {
		if IsTerminal(t.status) && t.finishedAt.Before(cutoff) {
			delete(e.tasks, id)
			slog.Debug("engine: evicted expired task", "task", id, "status", t.status)
		}
	}
}
