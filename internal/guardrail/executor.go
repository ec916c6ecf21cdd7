package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tenantwatch/argus/internal/metrics"
	"github.com/tenantwatch/argus/internal/runner"
	"github.com/tenantwatch/argus/internal/utils"
)

// ExecutorConfig bounds one run's fan-out.
type ExecutorConfig struct {
	// MaxConcurrent is the number of checks running at once. Must be
	// positive.
	MaxConcurrent int

	// CheckTimeout bounds each wave of checks when positive. A check still
	// running at the deadline is reported as a timed out failure.
	CheckTimeout time.Duration
}

// CheckFailure records a check that produced no findings.
type CheckFailure struct {
	CheckName string `json:"check_name"`
	Error     string `json:"error"`
	TimedOut  bool   `json:"timed_out"`
}

// Assessment is one run's aggregated outcome: every finding the checks
// produced plus every check that failed, with nothing dropped.
type Assessment struct {
	TenantID   string         `json:"tenant_id"`
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []Result       `json:"results"`
	Failures   []CheckFailure `json:"failures"`
}

// Counts tallies results by status.
type Counts struct {
	Compliant     int `json:"compliant"`
	NonCompliant  int `json:"non_compliant"`
	NotApplicable int `json:"not_applicable"`
}

// Counts tallies the assessment's results by status.
func (a *Assessment) Counts() Counts {
	var c Counts
	for _, r := range a.Results {
		switch r.Status {
		case StatusCompliant:
			c.Compliant++
		case StatusNonCompliant:
			c.NonCompliant++
		case StatusNotApplicable:
			c.NotApplicable++
		}
	}
	return c
}

// Summary renders a one-line digest for logs and progress updates.
func (a *Assessment) Summary() string {
	c := a.Counts()
	var failed string
	if n := len(a.Failures); n > 0 {
		failed = fmt.Sprintf("%d checks failed", n)
	}
	return utils.JoinNonEmpty(", ",
		fmt.Sprintf("%d compliant", c.Compliant),
		fmt.Sprintf("%d non-compliant", c.NonCompliant),
		fmt.Sprintf("%d not applicable", c.NotApplicable),
		failed,
	)
}

// Executor fans registered checks out over a bounded worker pool and
// aggregates their findings.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	now      func() time.Time
}

// NewExecutor wires an executor. The config is validated here so a bad
// deployment fails at startup, not on the first run.
func NewExecutor(registry *Registry, cfg ExecutorConfig) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("guardrail: nil registry")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: max concurrent checks must be positive, got %d", runner.ErrInvalidConfig, cfg.MaxConcurrent)
	}
	if cfg.CheckTimeout < 0 {
		return nil, fmt.Errorf("%w: negative check timeout %v", runner.ErrInvalidConfig, cfg.CheckTimeout)
	}
	return &Executor{registry: registry, cfg: cfg, now: time.Now}, nil
}

// Execute runs the named checks against env's tenant. Unknown names and
// check errors become entries in the assessment's Failures and never stop
// the other checks. A run naming no checks gets the heartbeat check.
//
// The returned error is non-nil only when ctx ended the run early; the
// partial assessment is still returned alongside it.
func (e *Executor) Execute(ctx context.Context, env *Env, names []string) (*Assessment, error) {
	a := &Assessment{
		TenantID:  env.TenantID,
		RunID:     env.RunID,
		StartedAt: e.now(),
	}
	defer func() {
		a.FinishedAt = e.now()
		env.ReleaseScratch()
	}()

	var checks []Check
	if len(names) == 0 {
		checks = []Check{HeartbeatCheck{}}
	} else {
		for _, name := range names {
			c, ok := e.registry.Lookup(name)
			if !ok {
				a.Failures = append(a.Failures, CheckFailure{
					CheckName: name,
					Error:     "not registered",
				})
				continue
			}
			checks = append(checks, c)
		}
	}

	results, failures, err := runner.Parallel(ctx, checks, runner.ParallelConfig{
		MaxConcurrent: e.cfg.MaxConcurrent,
		WaveTimeout:   e.cfg.CheckTimeout,
	}, func(ctx context.Context, c Check) ([]Result, error) {
		checkStart := time.Now()
		res, runErr := c.Run(ctx, env)

		outcome := "ok"
		if runErr != nil {
			outcome = "error"
		}
		metrics.ChecksTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check.name", c.Name()),
			attribute.String("outcome", outcome),
		))
		metrics.CheckDuration.Record(ctx, time.Since(checkStart).Seconds(),
			metric.WithAttributes(attribute.String("check.name", c.Name())))

		return res, runErr
	})

	for _, r := range results {
		for _, res := range r.Value {
			if res.TenantID == "" {
				res.TenantID = env.TenantID
			}
			if res.ReportTime.IsZero() {
				res.ReportTime = a.StartedAt
			}
			a.Results = append(a.Results, res)
		}
	}
	for _, f := range failures {
		a.Failures = append(a.Failures, CheckFailure{
			CheckName: checks[f.Index].Name(),
			Error:     utils.TruncateRunes(f.Err.Error(), 500),
			TimedOut:  errors.Is(f, runner.ErrWaveTimeout) || errors.Is(f, context.DeadlineExceeded),
		})
	}

	// Findings arrive in completion order; reports want a stable one.
	sort.Slice(a.Results, func(i, j int) bool {
		if a.Results[i].ControlID != a.Results[j].ControlID {
			return a.Results[i].ControlID < a.Results[j].ControlID
		}
		return a.Results[i].ItemName < a.Results[j].ItemName
	})

	return a, err
}
