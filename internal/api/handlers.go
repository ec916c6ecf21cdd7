package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	apperrors "github.com/tenantwatch/argus/internal/errors"
	"github.com/tenantwatch/argus/internal/middleware"
	"github.com/tenantwatch/argus/internal/validation"
	"github.com/tenantwatch/argus/internal/worker"
)

// RunStore is the slice of the database layer the API uses.
type RunStore interface {
	CreateRun(ctx context.Context, p db.CreateRunParams) (db.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (db.Run, error)
	ListRunsByRequester(ctx context.Context, requestedBy string, limit int32) ([]db.Run, error)
}

// SummaryReader serves cached run summaries.
type SummaryReader interface {
	Get(ctx context.Context, runID string) (*cache.RunSummary, error)
	Purge(ctx context.Context, pattern string) (int, error)
}

// Enqueuer queues background tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	cfg       *config.Config
	runs      RunStore
	summaries SummaryReader
	enqueuer  Enqueuer
}

func NewServer(cfg *config.Config, runs RunStore, summaries SummaryReader, enqueuer Enqueuer) *Server {
	return &Server{
		cfg:       cfg,
		runs:      runs,
		summaries: summaries,
		enqueuer:  enqueuer,
	}
}

type errorResponse struct {
	Error         *apperrors.AppError `json:"error"`
	InvalidChecks []string            `json:"invalid_checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	writeJSON(w, appErr.StatusCode, errorResponse{Error: appErr})
}

type RunResponse struct {
	ID            string   `json:"id"`
	TenantID      string   `json:"tenant_id"`
	RequestedBy   string   `json:"requested_by"`
	Checks        []string `json:"checks"`
	Status        string   `json:"status"`
	Compliant     int32    `json:"compliant"`
	NonCompliant  int32    `json:"non_compliant"`
	NotApplicable int32    `json:"not_applicable"`
	FailedChecks  int32    `json:"failed_checks"`
	Error         string   `json:"error,omitempty"`
	CreatedAt     string   `json:"created_at"`
	StartedAt     string   `json:"started_at,omitempty"`
	FinishedAt    string   `json:"finished_at,omitempty"`
}

func runResponse(run db.Run) RunResponse {
	resp := RunResponse{
		ID:            run.ID.String(),
		TenantID:      run.TenantID,
		RequestedBy:   run.RequestedBy,
		Checks:        run.Checks,
		Status:        run.Status,
		Compliant:     run.Compliant,
		NonCompliant:  run.NonCompliant,
		NotApplicable: run.NotApplicable,
		FailedChecks:  run.FailedChecks,
		Error:         run.ErrorMessage,
		CreatedAt:     run.CreatedAt.Format(time.RFC3339),
	}
	if run.StartedAt != nil {
		resp.StartedAt = run.StartedAt.Format(time.RFC3339)
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

type StartRunRequest struct {
	Checks []string `json:"checks"`
}

type StartRunResponse struct {
	RunID  string   `json:"run_id"`
	Status string   `json:"status"`
	Checks []string `json:"checks,omitempty"`
}

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.GetRequesterID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError(
			"Invalid request body", "INVALID_BODY",
			`Send a JSON object like {"checks": ["mfa.required"]}.`))
		return
	}

	if result := validation.ValidateRunRequest(req.Checks, validation.RunRequestLimits{}); !result.IsValid {
		appErr := apperrors.NewValidationError(result.Reason, "INVALID_CHECKS",
			"Fix the listed checks and resubmit the run.")
		writeJSON(w, appErr.StatusCode, errorResponse{Error: appErr, InvalidChecks: result.Invalid})
		return
	}

	runID := uuid.New()
	run, err := s.runs.CreateRun(r.Context(), db.CreateRunParams{
		ID:          runID,
		TenantID:    s.cfg.TenantID,
		RequestedBy: requesterID,
		Checks:      req.Checks,
	})
	if err != nil {
		writeError(w, apperrors.NewInternalError("Failed to create run", "RUN_CREATE_FAILED", err))
		return
	}

	task, err := worker.NewAssessmentRunTask(worker.AssessmentRunPayload{
		RunID:       runID.String(),
		TenantID:    s.cfg.TenantID,
		Checks:      req.Checks,
		RequestedBy: requesterID,
	})
	if err != nil {
		writeError(w, apperrors.NewInternalError("Failed to create task", "TASK_CREATE_FAILED", err))
		return
	}

	if _, err := s.enqueuer.Enqueue(task); err != nil {
		writeError(w, apperrors.NewQueueError("Failed to enqueue run", "RUN_ENQUEUE_FAILED", err))
		return
	}

	writeJSON(w, http.StatusAccepted, StartRunResponse{
		RunID:  run.ID.String(),
		Status: run.Status,
		Checks: run.Checks,
	})
}

// RunDetailResponse is the run row enriched with cached findings while the
// summary is still within its TTL. After it expires only the aggregate
// counts remain.
type RunDetailResponse struct {
	RunResponse
	Findings []cache.Finding       `json:"findings,omitempty"`
	Failures []cache.FailureRecord `json:"failures,omitempty"`
	Summary  string                `json:"summary,omitempty"`
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetRequesterID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, apperrors.NewValidationError(
			"Invalid run ID", "INVALID_RUN_ID", "Run IDs are UUIDs."))
		return
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, apperrors.NewNotFoundError(
			"Run not found", "RUN_NOT_FOUND",
			"Check the run ID; runs past the retention window are deleted."))
		return
	}
	if err != nil {
		writeError(w, apperrors.NewInternalError("Failed to fetch run", "RUN_FETCH_FAILED", err))
		return
	}

	resp := RunDetailResponse{RunResponse: runResponse(run)}
	// A summary cache miss or hiccup degrades to counts only.
	if summary, err := s.summaries.Get(r.Context(), runID.String()); err == nil && summary != nil {
		resp.Findings = summary.Findings
		resp.Failures = summary.Failures
		resp.Summary = summary.Summary
	}

	writeJSON(w, http.StatusOK, resp)
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.GetRequesterID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := int32(20)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, apperrors.NewValidationError(
				"Invalid limit", "INVALID_LIMIT", "limit must be between 1 and 100."))
			return
		}
		limit = int32(n)
	}

	runs, err := s.runs.ListRunsByRequester(r.Context(), requesterID, limit)
	if err != nil {
		writeError(w, apperrors.NewInternalError("Failed to list runs", "RUN_LIST_FAILED", err))
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

type PurgeCacheRequest struct {
	Pattern string `json:"pattern"`
}

type PurgeCacheResponse struct {
	Purged int `json:"purged"`
}

func (s *Server) HandlePurgeCache(w http.ResponseWriter, r *http.Request) {
	var req PurgeCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError(
			"Invalid request body", "INVALID_BODY", `Send {"pattern": "*"} to purge every cached summary.`))
		return
	}

	if req.Pattern == "" {
		writeError(w, apperrors.NewValidationError(
			"pattern is required", "MISSING_PATTERN", `Use "*" to purge every cached summary.`))
		return
	}

	purged, err := s.summaries.Purge(r.Context(), req.Pattern)
	if err != nil {
		writeError(w, apperrors.NewInternalError("Failed to purge cache", "CACHE_PURGE_FAILED", err))
		return
	}

	writeJSON(w, http.StatusOK, PurgeCacheResponse{Purged: purged})
}
