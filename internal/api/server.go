package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"referral-fee-bot/internal/config"
	"referral-fee-bot/internal/models"
	"referral-fee-bot/internal/ratelimit"
	"referral-fee-bot/internal/store"
	"referral-fee-bot/internal/telemetry"
)

// Server wires the HTTP surface the referral webhook and the dashboard use:
// job ingestion plus read-only job and audit views. The worker never serves
// HTTP; failures are observed through these tables.
type Server struct {
	cfg     config.Config
	store   *store.Store
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, limiter *ratelimit.Limiter, log *zap.Logger) *Server {
	return &Server{cfg: cfg, store: st, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/logs", s.handleListLogs)
	return r
}

type enqueueRequest struct {
	MatterID      string  `json:"matter_id"`
	ParticipantID string  `json:"participant_id"`
	AssigneeName  string  `json:"assignee_name"`
	Percentage    float64 `json:"percentage"`
	MaxAttempts   int     `json:"max_attempts"`
}

func (r enqueueRequest) validate() error {
	if r.MatterID == "" {
		return fmt.Errorf("matter_id is required")
	}
	if r.ParticipantID == "" {
		return fmt.Errorf("participant_id is required")
	}
	if r.AssigneeName == "" {
		return fmt.Errorf("assignee_name is required")
	}
	if r.Percentage <= 0 || r.Percentage > 100 {
		return fmt.Errorf("percentage must be greater than 0 and at most 100")
	}
	return nil
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	// Throttle before reading the body so malformed floods still consume
	// the sender's budget.
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), sourceFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.cfg.MaxAttempts
	}

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		MatterID:      req.MatterID,
		ParticipantID: req.ParticipantID,
		AssigneeName:  req.AssigneeName,
		Percentage:    req.Percentage,
		MaxAttempts:   req.MaxAttempts,
	})
	if err != nil {
		s.log.Error("create job", zap.Error(err))
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}

	if err := s.store.AppendLog(r.Context(), models.LogEntry{
		JobID:    &job.ID,
		MatterID: job.MatterID,
		Action:   models.ActionJobQueued,
		Status:   models.LogSuccess,
		Message:  fmt.Sprintf("queued fee update: %.2f%% to %s", job.Percentage, job.AssigneeName),
		Origin:   models.OriginWebhook,
	}); err != nil {
		s.log.Warn("append queue log", zap.Error(err))
	}
	telemetry.JobsEnqueued.Inc()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), limitParam(r))
	if err != nil {
		s.log.Error("list jobs", zap.Error(err))
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLogs(r.Context(), limitParam(r))
	if err != nil {
		s.log.Error("list logs", zap.Error(err))
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func sourceFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Webhook-Source"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
