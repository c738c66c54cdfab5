package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/noderank/noderank/internal/engine"
	"github.com/noderank/noderank/internal/metrics"
)

// Limits bounds accepted graph sizes. Updated atomically on config reload.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// Check rejects graphs beyond the configured bounds. Shared by the HTTP
// and websocket submission paths.
func (l Limits) Check(g GraphPayload) error {
	if g.NodeCount > l.MaxNodes {
		return fmt.Errorf("graph has %d nodes, limit is %d", g.NodeCount, l.MaxNodes)
	}
	if len(g.Edges) > l.MaxEdges {
		return fmt.Errorf("graph has %d edges, limit is %d", len(g.Edges), l.MaxEdges)
	}
	return nil
}

// Handler serves all /api/v1/* endpoints plus /metrics.
type Handler struct {
	engine *engine.Engine
	reg    *metrics.Registry
	limits atomic.Pointer[Limits]
	mux    *http.ServeMux
}

// New creates a Handler wired to the engine and registers all routes.
func New(eng *engine.Engine, reg *metrics.Registry, limits Limits) *Handler {
	h := &Handler{engine: eng, reg: reg, mux: http.NewServeMux()}
	h.limits.Store(&limits)

	h.mux.HandleFunc("/api/v1/compute", h.compute)
	h.mux.HandleFunc("/api/v1/tasks/", h.tasks) // subtree — extracts {id}[/cancel|/ack]
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// UpdateLimits swaps the graph size limits; used by config hot reload.
func (h *Handler) UpdateLimits(limits Limits) {
	h.limits.Store(&limits)
	slog.Info("api: limits updated", "max_nodes", limits.MaxNodes, "max_edges", limits.MaxEdges)
}

// --- route handlers ---------------------------------------------------------

// compute handles POST /api/v1/compute — submit one compute task.
func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	if err := h.limits.Load().Check(req.Graph); err != nil {
		jsonErr(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	engReq, err := req.ToEngine()
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.Submit(engReq)
	switch {
	case errors.Is(err, engine.ErrBusy):
		jsonErr(w, http.StatusConflict, "a task is already queued or running; retry later")
		return
	case err != nil:
		// The engine stored the task as Failed; surface the cause.
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	jsonResp(w, http.StatusAccepted, SubmitResponse{TaskID: id})
}

// tasks dispatches /api/v1/tasks/{id}, /api/v1/tasks/{id}/cancel and
// /api/v1/tasks/{id}/ack.
func (h *Handler) tasks(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "task id required")
		return
	}

	switch action {
	case "":
		h.getTask(w, r, id)
	case "cancel":
		h.cancelTask(w, r, id)
	case "ack":
		h.ackTask(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
	}
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, ok := h.engine.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "task not found")
		return
	}
	jsonResp(w, http.StatusOK, toTaskResponse(snap))
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch err := h.engine.Cancel(id); {
	case errors.Is(err, engine.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "task not found")
	case err != nil:
		jsonErr(w, http.StatusConflict, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) ackTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch err := h.engine.Ack(id); {
	case errors.Is(err, engine.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "task not found")
	case err != nil:
		jsonErr(w, http.StatusConflict, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// metrics returns GET /metrics in Prometheus text exposition.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := h.reg.WriteTo(w); err != nil {
		slog.Error("api: metrics encode failed", "err", err)
	}
}

// --- helpers ----------------------------------------------------------------

func toTaskResponse(s engine.Snapshot) TaskResponse {
	resp := TaskResponse{
		TaskID:        s.ID,
		Algorithm:     string(s.Algorithm),
		Backend:       string(s.Backend),
		Status:        string(s.Status),
		Error:         s.Error,
		Scores:        s.Scores,
		ComputeTimeMs: s.ComputeTimeMs,
		SubmittedAt:   s.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.Algorithm == engine.AlgoRandomWalk {
		resp.Seed = s.Params.Seed
	}
	if !s.FinishedAt.IsZero() {
		resp.FinishedAt = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func jsonResp(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response failed", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonResp(w, status, ErrorResponse{Error: msg})
}
