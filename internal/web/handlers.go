package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/health"
	"github.com/JonMunkholm/catalogsync/internal/jobs"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
)

const (
	// MaxRunsLimit caps the limit query parameter of the run list.
	MaxRunsLimit = 100
	// maxBodySize bounds the JSON body of POST /api/runs.
	maxBodySize = 1 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", health.DefaultRecentLimit), MaxRunsLimit)

	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []health.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": limit})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.deps.Runs.Run(r.Context(), id)
	switch {
	case errors.Is(err, health.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		respondError(w, r, err, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

// startRunResponse is returned when an import was queued.
type startRunResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Source string `json:"source"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enqueuer == nil {
		writeError(w, http.StatusServiceUnavailable, "run queue is not configured")
		return
	}

	var payload jobs.IngestPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Mode == "" {
		payload.Mode = catalog.SyncIncremental
	}

	var problems []string
	if err := validate.StructPartial(payload, "Source"); err != nil {
		problems = append(problems, "source: is required")
	}
	var optErr *pipeline.OptionsError
	if err := payload.Options.Validate(); errors.As(err, &optErr) {
		problems = append(problems, optErr.Problems...)
	} else if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid run request",
			Message: "invalid run request",
			Details: problems,
		})
		return
	}

	info, err := s.deps.Enqueuer.EnqueueIngest(r.Context(), payload)
	if err != nil {
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}

	logging.FromContext(r.Context()).Info("run queued",
		"task_id", info.ID,
		"source", payload.Source,
		"mode", payload.Mode,
	)
	writeJSON(w, http.StatusAccepted, startRunResponse{
		TaskID: info.ID,
		Queue:  info.Queue,
		Source: payload.Source,
	})
}
