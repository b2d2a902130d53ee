// Package doctor runs preflight checks against the config and the cluster:
// is the config valid, do the hosts answer, and are the server features the
// dashboard and flamegraphs depend on switched on.
package doctor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Categories in report order.
const (
	CategoryConfig   = "CONFIG"
	CategoryHosts    = "HOSTS"
	CategoryFeatures = "FEATURES"
)

// CategoryOrder lists every category in the order reports render them.
var CategoryOrder = []string{CategoryConfig, CategoryHosts, CategoryFeatures}

// CheckStatus represents the result status of a check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns a human-readable status string.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name in JSON reports.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	for _, st := range []CheckStatus{StatusPass, StatusWarn, StatusFail} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", text)
}

// CheckResult contains the outcome of running a check.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Check defines the interface for diagnostic checks.
type Check interface {
	// Name returns the check's identifier.
	Name() string

	// Category returns the check's category (CONFIG, HOSTS, FEATURES).
	Category() string

	// Run executes the check. It must return when ctx ends.
	Run(ctx context.Context) CheckResult
}

// RunAll executes checks one after another. Results are index-aligned
// with checks.
func RunAll(ctx context.Context, checks []Check) []CheckResult {
	results := make([]CheckResult, len(checks))
	for i, check := range checks {
		results[i] = check.Run(ctx)
	}
	return results
}

// RunAllParallel executes checks with at most limit running at once
// (limit <= 0 means unbounded). Results are index-aligned with checks.
func RunAllParallel(ctx context.Context, checks []Check, limit int) []CheckResult {
	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// GroupByCategory maps each category to the indices of its checks.
func GroupByCategory(checks []Check) map[string][]int {
	grouped := make(map[string][]int)
	for i, check := range checks {
		cat := check.Category()
		grouped[cat] = append(grouped[cat], i)
	}
	return grouped
}

// CountByStatus counts results by status.
func CountByStatus(results []CheckResult) map[CheckStatus]int {
	counts := make(map[CheckStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

// HasFailures returns true if any result has a fail status.
func HasFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// HasIssues returns true if any result has a fail or warn status.
func HasIssues(results []CheckResult) bool {
	for _, r := range results {
		if r.Status != StatusPass {
			return true
		}
	}
	return false
}

// Summary returns a summary string of the check results.
func Summary(results []CheckResult) string {
	if !HasIssues(results) {
		return "Everything looks good"
	}
	counts := CountByStatus(results)
	total := counts[StatusWarn] + counts[StatusFail]
	if total == 1 {
		return "1 issue found"
	}
	return fmt.Sprintf("%d issues found", total)
}
