package fanout

import (
	"time"

	"github.com/rileyhilliard/chdig/internal/query"
)

// HostResult is the outcome of one template on one host: rows or an error.
type HostResult struct {
	Rows     []query.Row
	Err      error
	Duration time.Duration
}

// OK reports whether the host answered.
func (r HostResult) OK() bool {
	return r.Err == nil
}

// Result is one fan-out cycle. Every host that was active when the cycle
// started has exactly one PerHost entry.
type Result struct {
	Template *query.Template
	// Hosts lists host ids in topology order.
	Hosts   []string
	PerHost map[string]HostResult
	// WindowStart and WindowEnd are the resolved bounds the cycle queried.
	WindowStart time.Time
	WindowEnd   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	// Abandoned is set when the caller's context ended before the cycle
	// finished. Host statuses were not updated for such cycles.
	Abandoned bool
}

// Failed returns the ids of hosts that errored, in topology order.
func (r *Result) Failed() []string {
	var out []string
	for _, id := range r.Hosts {
		if !r.PerHost[id].OK() {
			out = append(out, id)
		}
	}
	return out
}

// Succeeded returns the ids of hosts that answered, in topology order.
func (r *Result) Succeeded() []string {
	var out []string
	for _, id := range r.Hosts {
		if r.PerHost[id].OK() {
			out = append(out, id)
		}
	}
	return out
}

// AllFailed reports a cluster-wide outage: there were hosts and none answered.
func (r *Result) AllFailed() bool {
	return len(r.Hosts) > 0 && len(r.Succeeded()) == 0
}

// RowCount returns the number of rows across successful hosts.
func (r *Result) RowCount() int {
	n := 0
	for _, hr := range r.PerHost {
		n += len(hr.Rows)
	}
	return n
}

// Duration returns how long the cycle took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
