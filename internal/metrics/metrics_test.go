package metrics

import (
	"strings"
	"testing"
)

func render(t *testing.T, r *Registry) string {
	t.Helper()
	var sb strings.Builder
	if err := r.WriteTo(&sb); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return sb.String()
}

func TestRegistry_EmptyExposesOnlyGauge(t *testing.T) {
	out := render(t, New())
	if strings.Contains(out, famSubmitted) {
		t.Errorf("empty registry exposed %s:\n%s", famSubmitted, out)
	}
	if !strings.Contains(out, famComputeMs) {
		t.Errorf("missing %s gauge:\n%s", famComputeMs, out)
	}
}

func TestRegistry_CountersLabelledByAlgorithm(t *testing.T) {
	r := New()
	r.TaskSubmitted("power_iteration")
	r.TaskSubmitted("power_iteration")
	r.TaskSubmitted("random_walk")
	r.TaskCompleted("power_iteration", 12.5)
	r.TaskFailed("random_walk")
	r.TaskCancelled("power_iteration")

	out := render(t, r)
	wantLines := []string{
		`noderank_tasks_submitted_total{algorithm="power_iteration"} 2`,
		`noderank_tasks_submitted_total{algorithm="random_walk"} 1`,
		`noderank_tasks_completed_total{algorithm="power_iteration"} 1`,
		`noderank_tasks_failed_total{algorithm="random_walk"} 1`,
		`noderank_tasks_cancelled_total{algorithm="power_iteration"} 1`,
		`noderank_last_compute_duration_ms 12.5`,
	}
	for _, line := range wantLines {
		if !strings.Contains(out, line) {
			t.Errorf("missing line %q in exposition:\n%s", line, out)
		}
	}
}

func TestRegistry_ExpositionHasTypeHeaders(t *testing.T) {
	r := New()
	r.TaskSubmitted("power_iteration")
	out := render(t, r)
	if !strings.Contains(out, "# TYPE noderank_tasks_submitted_total counter") {
		t.Errorf("missing TYPE header:\n%s", out)
	}
}
