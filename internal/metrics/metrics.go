package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric family names exposed on /metrics.
const (
	famSubmitted = "noderank_tasks_submitted_total"
	famCompleted = "noderank_tasks_completed_total"
	famFailed    = "noderank_tasks_failed_total"
	famCancelled = "noderank_tasks_cancelled_total"
	famComputeMs = "noderank_last_compute_duration_ms"
)

// Registry accumulates task counters, labelled by algorithm.
type Registry struct {
	mu            sync.Mutex
	submitted     map[string]float64
	completed     map[string]float64
	failed        map[string]float64
	cancelled     map[string]float64
	lastComputeMs float64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		submitted: make(map[string]float64),
		completed: make(map[string]float64),
		failed:    make(map[string]float64),
		cancelled: make(map[string]float64),
	}
}

// TaskSubmitted records one submission for the given algorithm.
func (r *Registry) TaskSubmitted(algorithm string) { r.inc(r.submitted, algorithm) }

// TaskCompleted records one successful completion and the compute duration.
func (r *Registry) TaskCompleted(algorithm string, computeMs float64) {
	r.mu.Lock()
	r.completed[algorithm]++
	r.lastComputeMs = computeMs
	r.mu.Unlock()
}

// TaskFailed records one failed task.
func (r *Registry) TaskFailed(algorithm string) { r.inc(r.failed, algorithm) }

// TaskCancelled records one cancelled task.
func (r *Registry) TaskCancelled(algorithm string) { r.inc(r.cancelled, algorithm) }

func (r *Registry) inc(m map[string]float64, algorithm string) {
	r.mu.Lock()
	m[algorithm]++
	r.mu.Unlock()
}

// WriteTo encodes the current state as Prometheus text exposition.
func (r *Registry) WriteTo(w io.Writer) error {
	r.mu.Lock()
	families := []*dto.MetricFamily{
		counterFamily(famSubmitted, "Compute tasks accepted by the engine.", r.submitted),
		counterFamily(famCompleted, "Compute tasks finished with a result.", r.completed),
		counterFamily(famFailed, "Compute tasks ended in an error.", r.failed),
		counterFamily(famCancelled, "Compute tasks cancelled by the caller.", r.cancelled),
		gaugeFamily(famComputeMs, "Wall-clock duration of the most recent completed compute, excluding module load.", r.lastComputeMs),
	}
	r.mu.Unlock()

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func counterFamily(name, help string, byAlgorithm map[string]float64) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	algos := make([]string, 0, len(byAlgorithm))
	for algo := range byAlgorithm {
		algos = append(algos, algo)
	}
	sort.Strings(algos)
	for _, algo := range algos {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{
				Name:  proto.String("algorithm"),
				Value: proto.String(algo),
			}},
			Counter: &dto.Counter{Value: proto.Float64(byAlgorithm[algo])},
		})
	}
	return mf
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: proto.Float64(value)},
		}},
	}
}
