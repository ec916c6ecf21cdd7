package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	"github.com/tenantwatch/argus/internal/guardrail"
	"github.com/tenantwatch/argus/internal/metrics"
)

func TestMain(m *testing.M) {
	// Handlers record run metrics; without an SDK the instruments are
	// no-ops, but they must exist.
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// Mocks

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) CreateRun(ctx context.Context, p db.CreateRunParams) (db.Run, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(db.Run), args.Error(1)
}

func (m *MockRunStore) MarkExecuting(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRunStore) CompleteRun(ctx context.Context, p db.CompleteRunParams) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRunStore) FailRun(ctx context.Context, id uuid.UUID, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

func (m *MockRunStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, env *guardrail.Env, names []string) (*guardrail.Assessment, error) {
	args := m.Called(ctx, env, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*guardrail.Assessment), args.Error(1)
}

type MockSummaryCache struct {
	mock.Mock
}

func (m *MockSummaryCache) Set(ctx context.Context, summary *cache.RunSummary, ttl time.Duration) error {
	args := m.Called(ctx, summary, ttl)
	return args.Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, update ProgressUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func newTestConfig() *config.Config {
	return &config.Config{
		TenantID: "tenant-a",
		Assessment: config.AssessmentConfig{
			MaxConcurrentChecks: 4,
			CheckTimeoutSeconds: 120,
			CacheTTLSeconds:     300,
			RetentionDays:       30,
		},
	}
}

func assessmentTask(t *testing.T, payload AssessmentRunPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TypeAssessmentRun, data)
}

// Tests

func TestHandleAssessmentRun_CompletesRun(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()

	payload := AssessmentRunPayload{
		RunID:       runID.String(),
		TenantID:    "tenant-a",
		Checks:      []string{"mfa.required", "policy.conditional-access"},
		RequestedBy: "user-1",
	}
	task := assessmentTask(t, payload)

	scratch, err := cache.New(cache.Options{})
	require.NoError(t, err)

	mockRuns := new(MockRunStore)
	mockExec := new(MockExecutor)
	mockSummaries := new(MockSummaryCache)
	mockBroadcaster := new(MockBroadcaster)

	processor := NewRunProcessor(mockRuns, mockExec, scratch, mockSummaries, mockBroadcaster, newTestConfig(), nil)

	started := time.Now().Add(-2 * time.Second)
	assessment := &guardrail.Assessment{
		TenantID:   "tenant-a",
		RunID:      runID.String(),
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Results: []guardrail.Result{
			{ControlID: "MFA-01", ItemName: "All users covered", Status: guardrail.StatusCompliant},
			{ControlID: "MFA-02", ItemName: "Legacy auth blocked", Status: guardrail.StatusCompliant},
			{ControlID: "POL-01", ItemName: "Guest access reviewed", Status: guardrail.StatusNonCompliant},
		},
	}

	mockRuns.On("MarkExecuting", ctx, runID).Return(nil)
	mockExec.On("Execute", ctx, mock.MatchedBy(func(env *guardrail.Env) bool {
		return env.TenantID == "tenant-a" && env.RunID == runID.String() && env.Cache == scratch
	}), payload.Checks).Return(assessment, nil)
	mockRuns.On("CompleteRun", ctx, mock.MatchedBy(func(p db.CompleteRunParams) bool {
		return p.ID == runID && p.Compliant == 2 && p.NonCompliant == 1 && p.NotApplicable == 0 && p.FailedChecks == 0
	})).Return(nil)
	mockSummaries.On("Set", ctx, mock.MatchedBy(func(s *cache.RunSummary) bool {
		return s.RunID == runID.String() &&
			s.Status == db.RunStatusCompleted &&
			len(s.Findings) == 3 &&
			len(s.Failures) == 0 &&
			s.Summary != ""
	}), 5*time.Minute).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.MatchedBy(func(u ProgressUpdate) bool {
		return u.RunID == runID.String() && u.Status == db.RunStatusExecuting
	})).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.MatchedBy(func(u ProgressUpdate) bool {
		return u.RunID == runID.String() && u.Status == db.RunStatusCompleted
	})).Return(nil)

	err = processor.HandleAssessmentRun(ctx, task)

	assert.NoError(t, err)
	mockRuns.AssertExpectations(t)
	mockExec.AssertExpectations(t)
	mockSummaries.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

func TestHandleAssessmentRun_ScheduledPayloadCreatesRun(t *testing.T) {
	ctx := context.Background()

	payload := AssessmentRunPayload{
		TenantID:    "tenant-a",
		Checks:      []string{"mfa.required"},
		RequestedBy: "scheduler",
	}
	task := assessmentTask(t, payload)

	scratch, err := cache.New(cache.Options{})
	require.NoError(t, err)

	created := db.Run{
		ID:          uuid.New(),
		TenantID:    "tenant-a",
		RequestedBy: "scheduler",
		Checks:      payload.Checks,
		Status:      db.RunStatusPending,
	}

	mockRuns := new(MockRunStore)
	mockExec := new(MockExecutor)
	mockSummaries := new(MockSummaryCache)

	processor := NewRunProcessor(mockRuns, mockExec, scratch, mockSummaries, nil, newTestConfig(), nil)

	mockRuns.On("CreateRun", ctx, mock.MatchedBy(func(p db.CreateRunParams) bool {
		return p.TenantID == "tenant-a" && p.RequestedBy == "scheduler" && p.ID != uuid.Nil
	})).Return(created, nil)
	mockRuns.On("MarkExecuting", ctx, created.ID).Return(nil)
	mockExec.On("Execute", ctx, mock.MatchedBy(func(env *guardrail.Env) bool {
		return env.RunID == created.ID.String()
	}), payload.Checks).Return(&guardrail.Assessment{
		TenantID: "tenant-a",
		RunID:    created.ID.String(),
		Results: []guardrail.Result{
			{ControlID: "MFA-01", ItemName: "All users covered", Status: guardrail.StatusCompliant},
		},
	}, nil)
	mockRuns.On("CompleteRun", ctx, mock.MatchedBy(func(p db.CompleteRunParams) bool {
		return p.ID == created.ID && p.Compliant == 1
	})).Return(nil)
	mockSummaries.On("Set", ctx, mock.Anything, mock.Anything).Return(nil)

	err = processor.HandleAssessmentRun(ctx, task)

	assert.NoError(t, err)
	mockRuns.AssertExpectations(t)
	mockExec.AssertExpectations(t)
}

func TestHandleAssessmentRun_AbortedRunMarkedFailed(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()

	payload := AssessmentRunPayload{
		RunID:       runID.String(),
		TenantID:    "tenant-a",
		Checks:      []string{"mfa.required"},
		RequestedBy: "user-1",
	}
	task := assessmentTask(t, payload)

	scratch, err := cache.New(cache.Options{})
	require.NoError(t, err)

	mockRuns := new(MockRunStore)
	mockExec := new(MockExecutor)
	mockSummaries := new(MockSummaryCache)
	mockBroadcaster := new(MockBroadcaster)

	processor := NewRunProcessor(mockRuns, mockExec, scratch, mockSummaries, mockBroadcaster, newTestConfig(), nil)

	mockRuns.On("MarkExecuting", ctx, runID).Return(nil)
	mockExec.On("Execute", ctx, mock.Anything, payload.Checks).Return(nil, context.Canceled)
	// markFailed detaches from the dead run context, so the exact context
	// differs from the test's.
	mockRuns.On("FailRun", mock.Anything, runID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "run aborted")
	})).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	err = processor.HandleAssessmentRun(ctx, task)

	assert.ErrorIs(t, err, context.Canceled)
	mockRuns.AssertExpectations(t)
	mockRuns.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything)
	mockSummaries.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleAssessmentRun_BadPayload(t *testing.T) {
	mockRuns := new(MockRunStore)
	processor := NewRunProcessor(mockRuns, new(MockExecutor), nil, new(MockSummaryCache), nil, newTestConfig(), nil)

	task := asynq.NewTask(TypeAssessmentRun, []byte("{not json"))
	err := processor.HandleAssessmentRun(context.Background(), task)

	assert.Error(t, err)
	mockRuns.AssertNotCalled(t, "MarkExecuting", mock.Anything, mock.Anything)
}

func TestHandleCleanupRuns(t *testing.T) {
	ctx := context.Background()

	mockRuns := new(MockRunStore)
	processor := NewRunProcessor(mockRuns, new(MockExecutor), nil, new(MockSummaryCache), nil, newTestConfig(), nil)

	mockRuns.On("DeleteRunsBefore", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Since(cutoff)
		return age > 29*24*time.Hour && age < 31*24*time.Hour
	})).Return(int64(4), nil)

	err := processor.HandleCleanupRuns(ctx, asynq.NewTask(TypeCleanupRuns, nil))

	assert.NoError(t, err)
	mockRuns.AssertExpectations(t)
}

func TestHandleCleanupRuns_StoreError(t *testing.T) {
	ctx := context.Background()

	mockRuns := new(MockRunStore)
	processor := NewRunProcessor(mockRuns, new(MockExecutor), nil, new(MockSummaryCache), nil, newTestConfig(), nil)

	mockRuns.On("DeleteRunsBefore", ctx, mock.Anything).Return(int64(0), fmt.Errorf("connection refused"))

	err := processor.HandleCleanupRuns(ctx, asynq.NewTask(TypeCleanupRuns, nil))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete expired runs")
}
