// Package transport executes queries against a single ClickHouse host.
//
// Conn is the only surface the rest of chdig depends on: the fan-out layer
// calls Execute once per host and classifies failures with Classify. The
// production implementation (ClickHouse) speaks the native protocol through
// clickhouse-go; tests use transport/testing.FakeConn.
package transport

import (
	"context"
)

// Params are named query parameters, bound as @name in the query text.
type Params map[string]any

// Result is the decoded result set of one query on one host.
// Rows hold driver-native Go values (string, uint64, time.Time, []string, ...).
type Result struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of the named column, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Conn executes a query against the host at address and returns all rows.
// Implementations must be safe for concurrent use by multiple goroutines and
// must honor ctx cancellation and deadlines.
type Conn interface {
	Execute(ctx context.Context, address, query string, params Params) (*Result, error)
	Close() error
}

type ctxKey int

const (
	queryIDKey ctxKey = iota
	settingsKey
)

// WithQueryID tags queries issued with ctx with a server-visible query id.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey, id)
}

// QueryID returns the query id attached with WithQueryID.
func QueryID(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey).(string)
	return id
}

// WithSettings attaches per-query server settings to ctx. Settings already
// on ctx are kept unless overridden.
func WithSettings(ctx context.Context, settings map[string]any) context.Context {
	merged := make(map[string]any, len(settings))
	for k, v := range Settings(ctx) {
		merged[k] = v
	}
	for k, v := range settings {
		merged[k] = v
	}
	return context.WithValue(ctx, settingsKey, merged)
}

// Settings returns the per-query settings attached with WithSettings.
func Settings(ctx context.Context) map[string]any {
	s, _ := ctx.Value(settingsKey).(map[string]any)
	return s
}
