package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/noderank/noderank/internal/engine"
	"github.com/noderank/noderank/internal/graph"
	"github.com/noderank/noderank/internal/metrics"
)

func newTestHandler(t *testing.T, run bool) *Handler {
	t.Helper()
	reg := metrics.New()
	eng := engine.New(nil, reg, engine.Options{})
	if run {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go eng.Run(ctx)
		go func() {
			for range eng.Events() {
				// drain so terminal events never block the run loop
			}
		}()
	}
	return New(eng, reg, Limits{MaxNodes: 1000, MaxEdges: 5000})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func cycleRequest() ComputeRequest {
	return ComputeRequest{
		Algorithm: "power_iteration",
		Backend:   "managed",
		Graph: GraphPayload{
			NodeCount: 3,
			Edges:     []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 0}},
			Directed:  true,
		},
		Parameters: ParamsPayload{Alpha: 0.85, Iterations: 100},
	}
}

func submit(t *testing.T, h *Handler, req ComputeRequest) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compute", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if resp.TaskID == "" {
		t.Fatal("empty task_id")
	}
	return resp.TaskID
}

func TestCompute_SubmitAndFetchResult(t *testing.T) {
	h := newTestHandler(t, true)
	id := submit(t, h, cycleRequest())

	var task TaskResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get task status = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
			t.Fatalf("decode task: %v", err)
		}
		if task.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed, status %q error %q", task.Status, task.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(task.Scores) != 3 {
		t.Fatalf("scores len = %d, want 3", len(task.Scores))
	}
	var sum float64
	for _, v := range task.Scores {
		sum += v
	}
	if sum < 0.999999 || sum > 1.000001 {
		t.Errorf("sum(scores) = %v, want 1.0 ± 1e-6", sum)
	}
}

func TestCompute_InvalidAlphaIs400(t *testing.T) {
	h := newTestHandler(t, true)
	req := cycleRequest()
	req.Parameters.Alpha = 1.5
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compute", req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestCompute_OutOfRangeEdgeIs400(t *testing.T) {
	h := newTestHandler(t, true)
	req := cycleRequest()
	req.Graph.Edges = append(req.Graph.Edges, graph.Edge{Source: 0, Target: 9})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compute", req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestCompute_NodeLimitIs413(t *testing.T) {
	h := newTestHandler(t, true)
	req := cycleRequest()
	req.Graph.NodeCount = 10_000
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compute", req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestCompute_UpdatedLimitsApply(t *testing.T) {
	h := newTestHandler(t, true)
	h.UpdateLimits(Limits{MaxNodes: 2, MaxEdges: 5000})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compute", cycleRequest())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413 after lowering node limit", rec.Code)
	}
}

func TestCompute_GetOnComputeIs405(t *testing.T) {
	h := newTestHandler(t, true)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/compute", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestTasks_UnknownIdIs404(t *testing.T) {
	h := newTestHandler(t, true)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTasks_CancelQueuedTask(t *testing.T) {
	// Engine not running: the task stays queued and can be cancelled.
	h := newTestHandler(t, false)
	id := submit(t, h, cycleRequest())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}

	// A second cancel hits a terminal task.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}
}

func TestTasks_AckRemovesTerminalTask(t *testing.T) {
	h := newTestHandler(t, false)
	id := submit(t, h, cycleRequest())
	doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+id+"/ack", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ack status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after ack status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, false)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
}

func TestMetrics_TextExposition(t *testing.T) {
	h := newTestHandler(t, false)
	submit(t, h, cycleRequest())

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text exposition", ct)
	}
	if !strings.Contains(rec.Body.String(), "noderank_tasks_submitted_total") {
		t.Errorf("missing submitted counter:\n%s", rec.Body.String())
	}
}
