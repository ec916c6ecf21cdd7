package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	"github.com/tenantwatch/argus/internal/guardrail"
	"github.com/tenantwatch/argus/internal/metrics"
)

// RunRecorder is the slice of the run store the processor needs.
type RunRecorder interface {
	CreateRun(ctx context.Context, p db.CreateRunParams) (db.Run, error)
	MarkExecuting(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, p db.CompleteRunParams) error
	FailRun(ctx context.Context, id uuid.UUID, message string) error
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AssessmentRunner executes the named checks against a tenant environment.
type AssessmentRunner interface {
	Execute(ctx context.Context, env *guardrail.Env, names []string) (*guardrail.Assessment, error)
}

// SummaryWriter caches finished run summaries.
type SummaryWriter interface {
	Set(ctx context.Context, summary *cache.RunSummary, ttl time.Duration) error
}

// Broadcaster posts run status updates.
type Broadcaster interface {
	Broadcast(ctx context.Context, update ProgressUpdate) error
}

type RunProcessor struct {
	runs        RunRecorder
	executor    AssessmentRunner
	scratch     *cache.Store
	summaries   SummaryWriter
	broadcaster Broadcaster
	cfg         *config.Config
	metrics     *WorkerMetrics
}

func NewRunProcessor(
	runs RunRecorder,
	executor AssessmentRunner,
	scratch *cache.Store,
	summaries SummaryWriter,
	broadcaster Broadcaster,
	cfg *config.Config,
	workerMetrics *WorkerMetrics,
) *RunProcessor {
	return &RunProcessor{
		runs:        runs,
		executor:    executor,
		scratch:     scratch,
		summaries:   summaries,
		broadcaster: broadcaster,
		cfg:         cfg,
		metrics:     workerMetrics,
	}
}

func (p *RunProcessor) HandleAssessmentRun(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	var payload AssessmentRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	// Scheduled invocations carry no run ID; create the record here so
	// every tick gets its own run.
	if payload.RunID == "" {
		run, err := p.runs.CreateRun(ctx, db.CreateRunParams{
			ID:          uuid.New(),
			TenantID:    payload.TenantID,
			RequestedBy: payload.RequestedBy,
			Checks:      payload.Checks,
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduled run: %w", err)
		}
		payload.RunID = run.ID.String()
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", payload.RunID, err)
	}

	slog.Info("Processing assessment run",
		"run_id", payload.RunID, "tenant_id", payload.TenantID, "checks", len(payload.Checks))

	if err := p.runs.MarkExecuting(ctx, runID); err != nil {
		return fmt.Errorf("failed to mark run executing: %w", err)
	}
	p.broadcast(ctx, payload, db.RunStatusExecuting, "Assessment started")

	env := &guardrail.Env{
		TenantID: payload.TenantID,
		RunID:    payload.RunID,
		Cache:    p.scratch,
	}

	assessment, err := p.executor.Execute(ctx, env, payload.Checks)
	if err != nil {
		p.markFailed(ctx, payload, runID, fmt.Sprintf("run aborted: %v", err))
		p.recordRun(ctx, t.Type(), "failed", start)
		return err
	}

	counts := assessment.Counts()
	if err := p.runs.CompleteRun(ctx, db.CompleteRunParams{
		ID:            runID,
		Compliant:     int32(counts.Compliant),
		NonCompliant:  int32(counts.NonCompliant),
		NotApplicable: int32(counts.NotApplicable),
		FailedChecks:  int32(len(assessment.Failures)),
	}); err != nil {
		p.markFailed(ctx, payload, runID, fmt.Sprintf("failed to record results: %v", err))
		p.recordRun(ctx, t.Type(), "failed", start)
		return err
	}

	if err := p.summaries.Set(ctx, buildSummary(assessment, counts), p.cfg.Assessment.CacheTTL()); err != nil {
		slog.Warn("Failed to cache run summary", "run_id", payload.RunID, "error", err)
	}

	p.broadcast(ctx, payload, db.RunStatusCompleted, assessment.Summary())
	p.recordRun(ctx, t.Type(), "completed", start)
	recordFindings(ctx, counts)

	slog.Info("Assessment run completed",
		"run_id", payload.RunID, "summary", assessment.Summary(),
		"duration", time.Since(start).Round(time.Millisecond))

	return nil
}

func (p *RunProcessor) HandleCleanupRuns(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -p.cfg.Assessment.RetentionDays)
	deleted, err := p.runs.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		p.metrics.RecordJob(ctx, t.Type(), "failed", time.Since(start).Seconds())
		return fmt.Errorf("failed to delete expired runs: %w", err)
	}

	slog.Info("Cleaned up expired runs", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	p.metrics.RecordJob(ctx, t.Type(), "completed", time.Since(start).Seconds())
	return nil
}

func (p *RunProcessor) broadcast(ctx context.Context, payload AssessmentRunPayload, status, message string) {
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Broadcast(ctx, ProgressUpdate{
		RunID:    payload.RunID,
		TenantID: payload.TenantID,
		Status:   status,
		Message:  message,
	}); err != nil {
		slog.Warn("Failed to broadcast run status", "run_id", payload.RunID, "error", err)
	}
}

func (p *RunProcessor) markFailed(ctx context.Context, payload AssessmentRunPayload, runID uuid.UUID, message string) {
	slog.Error("Run failed", "run_id", payload.RunID, "error", message)

	// Bookkeeping must land even when the run's own context is already dead.
	ctx = context.WithoutCancel(ctx)

	if err := p.runs.FailRun(ctx, runID, message); err != nil {
		slog.Error("Failed to record run failure", "run_id", payload.RunID, "error", err)
	}
	p.broadcast(ctx, payload, db.RunStatusFailed, message)
}

func (p *RunProcessor) recordRun(ctx context.Context, jobType, status string, start time.Time) {
	elapsed := time.Since(start).Seconds()
	p.metrics.RecordJob(ctx, jobType, status, elapsed)
	metrics.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	metrics.RunDuration.Record(ctx, elapsed)
}

func recordFindings(ctx context.Context, c guardrail.Counts) {
	metrics.FindingsTotal.Add(ctx, int64(c.Compliant),
		metric.WithAttributes(attribute.String("status", guardrail.StatusCompliant)))
	metrics.FindingsTotal.Add(ctx, int64(c.NonCompliant),
		metric.WithAttributes(attribute.String("status", guardrail.StatusNonCompliant)))
	metrics.FindingsTotal.Add(ctx, int64(c.NotApplicable),
		metric.WithAttributes(attribute.String("status", guardrail.StatusNotApplicable)))
}

func buildSummary(a *guardrail.Assessment, c guardrail.Counts) *cache.RunSummary {
	s := &cache.RunSummary{
		RunID:         a.RunID,
		TenantID:      a.TenantID,
		Status:        db.RunStatusCompleted,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		Compliant:     c.Compliant,
		NonCompliant:  c.NonCompliant,
		NotApplicable: c.NotApplicable,
		Findings:      make([]cache.Finding, 0, len(a.Results)),
		Failures:      make([]cache.FailureRecord, 0, len(a.Failures)),
		Summary:       a.Summary(),
	}
	for _, r := range a.Results {
		s.Findings = append(s.Findings, cache.Finding{
			ControlID:  r.ControlID,
			ItemName:   r.ItemName,
			Status:     r.Status,
			Comments:   r.Comments,
			TenantID:   r.TenantID,
			ReportTime: r.ReportTime,
		})
	}
	for _, f := range a.Failures {
		s.Failures = append(s.Failures, cache.FailureRecord{
			CheckName: f.CheckName,
			Error:     f.Error,
			TimedOut:  f.TimedOut,
		})
	}
	return s
}
