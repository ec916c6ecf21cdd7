// Package guardrail defines the compliance check contract and executes
// registered checks against a tenant with bounded concurrency.
//
// The control logic itself (which policies to inspect, what counts as
// compliant) lives with the teams that own each guardrail; this package
// runs whatever is registered and aggregates findings and failures.
package guardrail

import (
	"context"
	"time"

	"github.com/tenantwatch/argus/internal/cache"
)

// Compliance statuses reported by checks.
const (
	StatusCompliant     = "COMPLIANT"
	StatusNonCompliant  = "NON_COMPLIANT"
	StatusNotApplicable = "NOT_APPLICABLE"
)

// Result is one compliance finding produced by a check.
type Result struct {
	ControlID  string    `json:"control_id"`
	ItemName   string    `json:"item_name"`
	Status     string    `json:"status"`
	Comments   string    `json:"comments,omitempty"`
	TenantID   string    `json:"tenant_id"`
	ReportTime time.Time `json:"report_time"`
}

// Check is one guardrail validation.
type Check interface {
	// Name identifies the check in run requests and failure reports.
	Name() string

	// Run evaluates the control and returns its findings. A returned error
	// is recorded against this check only; sibling checks keep running.
	Run(ctx context.Context, env *Env) ([]Result, error)
}

// Env is the per-run environment shared by every check: the tenant under
// assessment and the cache for memoising backend lookups. Long-lived keys
// survive across runs within their TTL; keys built with ScratchKey are
// scoped to this run and dropped by ReleaseScratch.
type Env struct {
	TenantID string
	RunID    string
	Cache    *cache.Store
}

// ScratchKey builds a run-scoped cache key.
func (e *Env) ScratchKey(parts ...string) string {
	return cache.Key(append([]string{"run", e.RunID}, parts...)...)
}

// ReleaseScratch drops every entry this run stored under ScratchKey and
// returns how many were removed.
func (e *Env) ReleaseScratch() int {
	if e.Cache == nil || e.RunID == "" {
		return 0
	}
	return e.Cache.Clear(cache.Key("run", e.RunID) + ":*")
}
