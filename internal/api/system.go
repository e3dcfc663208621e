package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"licensehub/internal/scheduler"
	"licensehub/internal/version"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Build     version.BuildInfo `json:"build"`
	Database  string            `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Build:     version.Get(),
		Database:  "unknown",
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warnf("health: database ping failed: %v", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
		} else {
			resp.Database = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []scheduler.Status{}, "running": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    s.scheduler.Statuses(),
		"running": s.scheduler.IsRunning(),
	})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}

	name := mux.Vars(r)["name"]
	result, err := s.scheduler.RunNow(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	resp := map[string]interface{}{
		"job":        name,
		"success":    result.Success,
		"message":    result.Message,
		"processed":  result.Processed,
		"durationMs": result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		resp["error"] = result.Error.Error()
	}
	writeJSON(w, status, resp)
}
