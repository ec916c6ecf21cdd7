// Package validation vets run requests before anything is enqueued.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxChecks caps how many checks one run request may name.
const DefaultMaxChecks = 50

// Check names are dotted lowercase segments, e.g. "mfa.required" or
// "policy.conditional-access". Segments start with a letter and may
// contain digits and hyphens.
var checkNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)*$`)

// RunRequestLimits bounds a single run request.
type RunRequestLimits struct {
	// MaxChecks caps the request's check list. Zero means DefaultMaxChecks.
	MaxChecks int
}

// RunRequestResult contains the outcome of validating a run request.
type RunRequestResult struct {
	IsValid bool     `json:"is_valid"`
	Reason  string   `json:"reason"`
	Invalid []string `json:"invalid,omitempty"`
}

// ValidCheckName reports whether name is a well-formed check name.
func ValidCheckName(name string) bool {
	return checkNamePattern.MatchString(name)
}

// ValidateRunRequest vets the requested check list. An empty list is valid;
// the run falls back to the heartbeat check.
func ValidateRunRequest(checks []string, limits RunRequestLimits) RunRequestResult {
	maxChecks := limits.MaxChecks
	if maxChecks <= 0 {
		maxChecks = DefaultMaxChecks
	}

	if len(checks) > maxChecks {
		return RunRequestResult{
			IsValid: false,
			Reason:  fmt.Sprintf("Too many checks requested (%d). A single run is limited to %d.", len(checks), maxChecks),
		}
	}

	var malformed []string
	seen := make(map[string]bool, len(checks))
	var duplicated []string
	for _, name := range checks {
		if !ValidCheckName(name) {
			malformed = append(malformed, name)
			continue
		}
		if seen[name] {
			duplicated = append(duplicated, name)
			continue
		}
		seen[name] = true
	}

	if len(malformed) > 0 {
		return RunRequestResult{
			IsValid: false,
			Reason:  "Check names must be dotted lowercase segments, e.g. \"mfa.required\".",
			Invalid: malformed,
		}
	}

	if len(duplicated) > 0 {
		return RunRequestResult{
			IsValid: false,
			Reason:  fmt.Sprintf("Duplicate checks requested: %s.", strings.Join(duplicated, ", ")),
			Invalid: duplicated,
		}
	}

	return RunRequestResult{
		IsValid: true,
		Reason:  "Run request passed validation",
	}
}
