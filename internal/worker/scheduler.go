package worker

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/tenantwatch/argus/internal/config"
)

// NewScheduler registers the periodic tasks driven by configuration: the
// scheduled assessment run (when a cron schedule is configured) and the
// daily cleanup of runs past their retention window.
//
// Scheduled assessment payloads carry no run ID. The handler detects that
// and creates a fresh run record per invocation, so repeated ticks never
// collide on one ID.
func NewScheduler(redisURL string, cfg *config.Config) (*asynq.Scheduler, error) {
	opt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	if cfg.Assessment.Schedule != "" {
		task, err := NewAssessmentRunTask(AssessmentRunPayload{
			TenantID:    cfg.TenantID,
			Checks:      cfg.Assessment.Checks,
			RequestedBy: "scheduler",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build scheduled assessment task: %w", err)
		}
		if _, err := scheduler.Register(cfg.Assessment.Schedule, task); err != nil {
			return nil, fmt.Errorf("failed to register assessment schedule %q: %w", cfg.Assessment.Schedule, err)
		}
	}

	if _, err := scheduler.Register("0 4 * * *", NewCleanupRunsTask()); err != nil {
		return nil, fmt.Errorf("failed to register run cleanup: %w", err)
	}

	return scheduler, nil
}
