package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

type submitRequest struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Payload  any    `json:"payload,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Timeout  string `json:"timeout,omitempty"`

	// Wait, when true, holds the request open until the task settles and
	// returns its outcome instead of just the id.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	task := pool.Task{
		ID:       req.ID,
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: req.Priority,
		Timeout:  s.deps.DefaultTimeout,
	}
	if strings.TrimSpace(req.Timeout) != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		task.Timeout = d
	}

	fut, err := s.deps.Pool.Submit(task)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": fut.TaskID()})
		return
	}

	value, werr := fut.Wait(r.Context())
	if r.Context().Err() != nil {
		writeError(w, http.StatusGatewayTimeout, "request ended before task settled")
		return
	}
	resp := map[string]any{"id": fut.TaskID()}
	if werr != nil {
		resp["status"] = settleStatus(werr)
		resp["error"] = werr.Error()
	} else {
		resp["status"] = "completed"
		resp["value"] = value
	}
	writeJSON(w, http.StatusOK, resp)
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, pool.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, pool.ErrPoolShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func settleStatus(err error) string {
	switch {
	case errors.Is(err, pool.ErrTimeout):
		return "timeout"
	case errors.Is(err, pool.ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Pool.Cancel(id) {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
		return
	}
	writeError(w, http.StatusNotFound, "no pending task with id "+id)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.deps.Registry.Types()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage disabled")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.deps.Store.Recent(r.Context(), limit)
	if err != nil {
		s.deps.Log.Error("history query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
