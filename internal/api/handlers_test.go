package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	"github.com/tenantwatch/argus/internal/middleware"
	"github.com/tenantwatch/argus/internal/worker"
)

// Fakes

type fakeRunStore struct {
	created   *db.CreateRunParams
	createErr error
	runs      map[uuid.UUID]db.Run
	listed    []db.Run
	listErr   error
}

func (f *fakeRunStore) CreateRun(ctx context.Context, p db.CreateRunParams) (db.Run, error) {
	if f.createErr != nil {
		return db.Run{}, f.createErr
	}
	f.created = &p
	return db.Run{
		ID:          p.ID,
		TenantID:    p.TenantID,
		RequestedBy: p.RequestedBy,
		Checks:      p.Checks,
		Status:      db.RunStatusPending,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, id uuid.UUID) (db.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return db.Run{}, pgx.ErrNoRows
	}
	return run, nil
}

func (f *fakeRunStore) ListRunsByRequester(ctx context.Context, requestedBy string, limit int32) ([]db.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if int(limit) < len(f.listed) {
		return f.listed[:limit], nil
	}
	return f.listed, nil
}

type fakeSummaries struct {
	summaries   map[string]*cache.RunSummary
	purged      int
	purgeErr    error
	lastPattern string
}

func (f *fakeSummaries) Get(ctx context.Context, runID string) (*cache.RunSummary, error) {
	return f.summaries[runID], nil
}

func (f *fakeSummaries) Purge(ctx context.Context, pattern string) (int, error) {
	f.lastPattern = pattern
	return f.purged, f.purgeErr
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func withRequester(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, middleware.RequesterIDKey, requesterID)
}

func withRunID(req *http.Request, runID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("runID", runID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func testServer() (*Server, *fakeRunStore, *fakeSummaries, *fakeEnqueuer) {
	cfg := &config.Config{TenantID: "tenant-a"}
	runs := &fakeRunStore{runs: map[uuid.UUID]db.Run{}}
	summaries := &fakeSummaries{summaries: map[string]*cache.RunSummary{}}
	enqueuer := &fakeEnqueuer{}
	return NewServer(cfg, runs, summaries, enqueuer), runs, summaries, enqueuer
}

// Tests

func TestHandleStartRun_Unauthorized(t *testing.T) {
	srv, _, _, _ := testServer()

	body, _ := json.Marshal(StartRunRequest{Checks: []string{"mfa.required"}})
	req := httptest.NewRequest("POST", "/v1/runs", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	srv.HandleStartRun(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestHandleStartRun_AcceptsRun(t *testing.T) {
	srv, runs, _, enqueuer := testServer()

	body, _ := json.Marshal(StartRunRequest{Checks: []string{"mfa.required", "policy.conditional-access"}})
	req := httptest.NewRequest("POST", "/v1/runs", bytes.NewReader(body))
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	rr := httptest.NewRecorder()

	srv.HandleStartRun(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rr.Code, rr.Body.String())
	}

	var resp StartRunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Errorf("run_id %q is not a UUID", resp.RunID)
	}
	if resp.Status != db.RunStatusPending {
		t.Errorf("expected status pending, got %s", resp.Status)
	}

	if runs.created == nil {
		t.Fatal("expected a run row to be created")
	}
	if runs.created.TenantID != "tenant-a" || runs.created.RequestedBy != "user-1" {
		t.Errorf("run attributed wrong: %+v", runs.created)
	}

	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enqueuer.tasks))
	}
	if enqueuer.tasks[0].Type() != worker.TypeAssessmentRun {
		t.Errorf("expected task type %s, got %s", worker.TypeAssessmentRun, enqueuer.tasks[0].Type())
	}
}

func TestHandleStartRun_RejectsBadCheckNames(t *testing.T) {
	srv, runs, _, enqueuer := testServer()

	body, _ := json.Marshal(StartRunRequest{Checks: []string{"mfa.required", "Not A Check"}})
	req := httptest.NewRequest("POST", "/v1/runs", bytes.NewReader(body))
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	rr := httptest.NewRecorder()

	srv.HandleStartRun(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
		InvalidChecks []string `json:"invalid_checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Type != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", resp.Error.Type)
	}
	if len(resp.InvalidChecks) != 1 || resp.InvalidChecks[0] != "Not A Check" {
		t.Errorf("expected the malformed name to be reported, got %v", resp.InvalidChecks)
	}

	if runs.created != nil {
		t.Error("rejected request must not create a run")
	}
	if len(enqueuer.tasks) != 0 {
		t.Error("rejected request must not enqueue work")
	}
}

func TestHandleStartRun_QueueFailure(t *testing.T) {
	srv, _, _, enqueuer := testServer()
	enqueuer.err = fmt.Errorf("redis unreachable")

	body, _ := json.Marshal(StartRunRequest{Checks: []string{"mfa.required"}})
	req := httptest.NewRequest("POST", "/v1/runs", bytes.NewReader(body))
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	rr := httptest.NewRecorder()

	srv.HandleStartRun(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("QUEUE_ERROR")) {
		t.Errorf("expected a queue error, got %s", rr.Body.String())
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	srv, _, _, _ := testServer()

	req := httptest.NewRequest("GET", "/v1/runs/"+uuid.New().String(), nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	req = withRunID(req, uuid.New().String())
	rr := httptest.NewRecorder()

	srv.HandleGetRun(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestHandleGetRun_InvalidID(t *testing.T) {
	srv, _, _, _ := testServer()

	req := httptest.NewRequest("GET", "/v1/runs/not-a-uuid", nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	req = withRunID(req, "not-a-uuid")
	rr := httptest.NewRecorder()

	srv.HandleGetRun(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestHandleGetRun_EnrichesFromSummaryCache(t *testing.T) {
	srv, runs, summaries, _ := testServer()

	runID := uuid.New()
	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	runs.runs[runID] = db.Run{
		ID:          runID,
		TenantID:    "tenant-a",
		RequestedBy: "user-1",
		Checks:      []string{"mfa.required"},
		Status:      db.RunStatusCompleted,
		Compliant:   2,
		CreatedAt:   started,
		StartedAt:   &started,
		FinishedAt:  &finished,
	}
	summaries.summaries[runID.String()] = &cache.RunSummary{
		RunID:     runID.String(),
		TenantID:  "tenant-a",
		Status:    db.RunStatusCompleted,
		Compliant: 2,
		Findings: []cache.Finding{
			{ControlID: "MFA-01", ItemName: "All users covered", Status: "COMPLIANT"},
			{ControlID: "MFA-02", ItemName: "Legacy auth blocked", Status: "COMPLIANT"},
		},
		Summary: "2 compliant, 0 non-compliant, 0 not applicable",
	}

	req := httptest.NewRequest("GET", "/v1/runs/"+runID.String(), nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	req = withRunID(req, runID.String())
	rr := httptest.NewRecorder()

	srv.HandleGetRun(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp RunDetailResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Findings) != 2 {
		t.Errorf("expected 2 findings from the cache, got %d", len(resp.Findings))
	}
	if resp.Summary == "" {
		t.Error("expected the cached one-line summary")
	}
	if resp.Status != db.RunStatusCompleted {
		t.Errorf("expected completed, got %s", resp.Status)
	}
}

func TestHandleGetRun_CountsOnlyAfterSummaryExpiry(t *testing.T) {
	srv, runs, _, _ := testServer()

	runID := uuid.New()
	runs.runs[runID] = db.Run{
		ID:           runID,
		TenantID:     "tenant-a",
		RequestedBy:  "user-1",
		Status:       db.RunStatusCompleted,
		Compliant:    5,
		NonCompliant: 1,
		CreatedAt:    time.Now().Add(-24 * time.Hour),
	}

	req := httptest.NewRequest("GET", "/v1/runs/"+runID.String(), nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	req = withRunID(req, runID.String())
	rr := httptest.NewRecorder()

	srv.HandleGetRun(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp RunDetailResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Findings) != 0 {
		t.Errorf("expected no findings after expiry, got %d", len(resp.Findings))
	}
	if resp.Compliant != 5 || resp.NonCompliant != 1 {
		t.Errorf("aggregate counts must survive expiry: %+v", resp)
	}
}

func TestHandleListRuns(t *testing.T) {
	srv, runs, _, _ := testServer()
	runs.listed = []db.Run{
		{ID: uuid.New(), TenantID: "tenant-a", RequestedBy: "user-1", Status: db.RunStatusCompleted, CreatedAt: time.Now()},
		{ID: uuid.New(), TenantID: "tenant-a", RequestedBy: "user-1", Status: db.RunStatusPending, CreatedAt: time.Now()},
	}

	req := httptest.NewRequest("GET", "/v1/runs", nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	rr := httptest.NewRecorder()

	srv.HandleListRuns(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(resp.Runs))
	}
}

func TestHandleListRuns_InvalidLimit(t *testing.T) {
	srv, _, _, _ := testServer()

	req := httptest.NewRequest("GET", "/v1/runs?limit=-5", nil)
	req = req.WithContext(withRequester(req.Context(), "user-1"))
	rr := httptest.NewRecorder()

	srv.HandleListRuns(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestHandlePurgeCache(t *testing.T) {
	srv, _, summaries, _ := testServer()
	summaries.purged = 7

	body, _ := json.Marshal(PurgeCacheRequest{Pattern: "*"})
	req := httptest.NewRequest("POST", "/v1/admin/cache/purge", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	srv.HandlePurgeCache(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp PurgeCacheResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Purged != 7 {
		t.Errorf("expected 7 purged, got %d", resp.Purged)
	}
	if summaries.lastPattern != "*" {
		t.Errorf("expected pattern *, got %q", summaries.lastPattern)
	}
}

func TestHandlePurgeCache_MissingPattern(t *testing.T) {
	srv, _, _, _ := testServer()

	body, _ := json.Marshal(PurgeCacheRequest{})
	req := httptest.NewRequest("POST", "/v1/admin/cache/purge", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	srv.HandlePurgeCache(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}
