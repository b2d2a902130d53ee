package profile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// Tree is a built profile plus the facts needed to label it.
type Tree struct {
	Type     Type
	Root     *Node
	Samples  int
	Rejected int
	// Misses counts frames that could not be symbolized.
	Misses int
	// Failed lists hosts that contributed nothing.
	Failed      []string
	Hosts       []string
	BuiltAt     time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// Partial reports whether some hosts are missing from the tree.
func (t *Tree) Partial() bool {
	return len(t.Failed) > 0 && len(t.Failed) < len(t.Hosts)
}

// Collector gathers samples across the cluster and builds trees.
type Collector struct {
	exec *fanout.Executor
	sym  *Symbolizer
	log  logger.Logger
}

// NewCollector creates a collector. sym may be nil, in which case stacks keep
// their raw addresses.
func NewCollector(exec *fanout.Executor, sym *Symbolizer, log logger.Logger) *Collector {
	if log == nil {
		log = logger.Noop()
	}
	return &Collector{exec: exec, sym: sym, log: log}
}

// Symbolizer returns the collector's symbolizer, or nil.
func (c *Collector) Symbolizer() *Symbolizer { return c.sym }

// Collect fetches samples of type t from every active host. With queryIDs
// set only samples of those queries are kept.
func (c *Collector) Collect(ctx context.Context, t Type, window query.Window, queryIDs []string) ([]Sample, *fanout.Result) {
	tmpl := Template(t, len(queryIDs) > 0)
	var extra transport.Params
	if len(queryIDs) > 0 {
		extra = transport.Params{"query_ids": queryIDs}
	}

	res := c.exec.ExecuteWith(ctx, tmpl, window, extra)
	var samples []Sample
	for _, id := range res.Hosts {
		hr := res.PerHost[id]
		if !hr.OK() {
			continue
		}
		for i := range hr.Rows {
			samples = append(samples, toSample(&hr.Rows[i]))
		}
	}
	return samples, res
}

func toSample(r *query.Row) Sample {
	s := Sample{
		HostID: r.Key.HostID,
		Addrs:  r.Addrs,
		Frames: r.Frames,
	}
	if tid, err := strconv.ParseUint(r.Label("thread_id"), 10, 64); err == nil {
		s.ThreadID = tid
	}
	if w, ok := r.Metric("weight"); ok {
		s.Weight = int64(w)
	}
	return s
}

// Build collects, symbolizes and aggregates one tree. It fails when every
// host failed or ctx ended first; a partial cluster still yields a tree.
func (c *Collector) Build(ctx context.Context, t Type, window query.Window, queryIDs []string) (*Tree, error) {
	samples, res := c.Collect(ctx, t, window, queryIDs)
	if res.Abandoned {
		return nil, ctx.Err()
	}
	if res.AllFailed() {
		var cause error
		if failed := res.Failed(); len(failed) > 0 {
			cause = res.PerHost[failed[0]].Err
		}
		return nil, errors.WrapWithCode(cause, errors.ErrProfile,
			fmt.Sprintf("no host returned %s samples", t),
			"Check that the hosts are reachable and that trace_log is enabled")
	}

	misses := 0
	if c.sym != nil {
		misses = c.sym.Symbolize(ctx, samples)
	}
	b := NewBuilder(t)
	for _, s := range samples {
		b.Add(s)
	}
	if b.Rejected() > 0 {
		c.log.Debug("%s profile: dropped %d empty or weightless samples", t, b.Rejected())
	}

	return &Tree{
		Type:        t,
		Root:        b.Root(),
		Samples:     b.Samples(),
		Rejected:    b.Rejected(),
		Misses:      misses,
		Failed:      res.Failed(),
		Hosts:       res.Hosts,
		BuiltAt:     res.FinishedAt,
		WindowStart: res.WindowStart,
		WindowEnd:   res.WindowEnd,
	}, nil
}
