package profile

import (
	"fmt"

	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// Stack pipe timeout for system.stack_trace on servers that accept it.
const stackTracePipeTimeoutMs = 1000

var sampleColumns = []query.Column{
	query.Label("thread_id"),
	query.Frames("trace"),
	query.Metric("weight", query.UnitCount),
}

// weightExpr aggregates samples of one stack.
func weightExpr(t Type) string {
	switch t {
	case Memory, MemorySample, JemallocSample, MemoryAllocatedWithoutCheck:
		return "sum(size)"
	case ProfileEvents:
		return "sum(increment)"
	default:
		return "count()"
	}
}

// filterExpr drops frees and zero increments, which carry no weight.
func filterExpr(t Type) string {
	switch t {
	case Memory, MemorySample, JemallocSample, MemoryAllocatedWithoutCheck:
		return "\n\tAND size > 0"
	case ProfileEvents:
		return "\n\tAND increment > 0"
	default:
		return ""
	}
}

type templateKey struct {
	typ     Type
	byQuery bool
}

var templates = func() map[templateKey]*query.Template {
	out := make(map[templateKey]*query.Template)
	for _, t := range Types() {
		for _, byQuery := range []bool{false, true} {
			out[templateKey{t, byQuery}] = buildTemplate(t, byQuery)
		}
	}
	return out
}()

// Template returns the sampling template for t. With byQuery set the query
// expects a @query_ids parameter and keeps only those queries' samples.
func Template(t Type, byQuery bool) *query.Template {
	return templates[templateKey{t, byQuery}]
}

func buildTemplate(t Type, byQuery bool) *query.Template {
	name := "profile_" + t.String()
	queryFilter := ""
	if byQuery {
		name += "_query"
		queryFilter = "\n\tAND query_id IN @query_ids"
	}

	if t == Live {
		text := `SELECT
	thread_id,
	arrayReverse(trace) AS trace,
	count() AS weight
FROM system.stack_trace
WHERE length(trace) > 0` + queryFilter + `
GROUP BY thread_id, trace`
		return query.MustTemplate(query.Spec{
			Name:    name,
			Title:   "Live stacks",
			Text:    text,
			Columns: sampleColumns,
			Variants: map[transport.Quirk]string{
				transport.QuirkStackTracePipeTimeout: text +
					fmt.Sprintf("\nSETTINGS storage_system_stack_trace_pipe_read_timeout_ms = %d", stackTracePipeTimeoutMs),
			},
		})
	}

	return query.MustTemplate(query.Spec{
		Name:  name,
		Title: t.TraceType() + " profile",
		Text: fmt.Sprintf(`SELECT
	thread_id,
	arrayReverse(trace) AS trace,
	%s AS weight
FROM system.trace_log
WHERE event_date >= toDate(@start) AND event_time >= @start AND event_time < @end
	AND trace_type = '%s'%s%s
GROUP BY thread_id, trace`, weightExpr(t), t.TraceType(), filterExpr(t), queryFilter),
		Columns:  sampleColumns,
		Windowed: true,
	})
}

// symbolizeQuery resolves addresses on one host.
const symbolizeQuery = `SELECT
	addr,
	demangle(addressToSymbol(addr)) AS symbol
FROM (SELECT arrayJoin(@addrs) AS addr)`

var symbolizeSettings = map[string]any{"allow_introspection_functions": 1}
