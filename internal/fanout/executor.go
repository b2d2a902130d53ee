// Package fanout runs one query template against every host of a topology
// concurrently and collects partial results.
//
// The Executor is the only code that updates host liveness: it holds the
// topology's StatusWriter and marks each host up or down after every attempt.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
	"golang.org/x/sync/semaphore"
)

// Default limits used when Options leaves them zero.
const (
	DefaultMaxParallel  = 8
	DefaultHostTimeout  = 5 * time.Second
	DefaultCycleTimeout = 15 * time.Second
)

// Options configures an Executor.
type Options struct {
	// MaxParallel bounds in-flight host queries per cycle.
	MaxParallel int
	// HostTimeout bounds each host query, version probe included.
	HostTimeout time.Duration
	// CycleTimeout bounds the whole cycle. Hosts still running when it
	// expires are reported as timed out.
	CycleTimeout time.Duration
	// Now is the clock, for tests.
	Now func() time.Time
}

// Executor fans queries out to the hosts of one topology.
type Executor struct {
	conn   transport.Conn
	writer *cluster.StatusWriter
	topo   *cluster.Topology
	opts   Options
	log    logger.Logger
}

// NewExecutor creates an executor. It takes ownership of writer.
func NewExecutor(conn transport.Conn, writer *cluster.StatusWriter, opts Options, log logger.Logger) *Executor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.HostTimeout <= 0 {
		opts.HostTimeout = DefaultHostTimeout
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Executor{
		conn:   conn,
		writer: writer,
		topo:   writer.Topology(),
		opts:   opts,
		log:    log,
	}
}

// Topology returns the topology this executor queries.
func (e *Executor) Topology() *cluster.Topology {
	return e.topo
}

// Now returns the executor's clock reading.
func (e *Executor) Now() time.Time {
	return e.opts.Now()
}

type hostDone struct {
	host *cluster.Host
	hr   HostResult
}

// Execute runs tmpl on every active host and waits for all of them, or for
// the cycle deadline. It never fails as a whole: a cluster-wide outage is a
// Result whose entries are all errors.
//
// When ctx ends before the cycle completes (pause, seek, shutdown) the
// result is marked Abandoned and host statuses are left untouched.
func (e *Executor) Execute(ctx context.Context, tmpl *query.Template, window query.Window) *Result {
	return e.ExecuteWith(ctx, tmpl, window, nil)
}

// ExecuteWith is Execute with extra named parameters. Window parameters of
// windowed templates take precedence over extra ones.
func (e *Executor) ExecuteWith(ctx context.Context, tmpl *query.Template, window query.Window, extra transport.Params) *Result {
	started := e.opts.Now()
	hosts := e.topo.Active()

	res := &Result{
		Template:  tmpl,
		Hosts:     make([]string, len(hosts)),
		PerHost:   make(map[string]HostResult, len(hosts)),
		StartedAt: started,
	}
	res.WindowStart, res.WindowEnd = window.Resolve(started)

	var params transport.Params
	if len(extra) > 0 || tmpl.Windowed() {
		params = make(transport.Params, len(extra)+2)
		for k, v := range extra {
			params[k] = v
		}
	}
	if tmpl.Windowed() {
		for k, v := range window.Params(started) {
			params[k] = v
		}
	}

	cycleCtx, cancel := context.WithTimeout(ctx, e.opts.CycleTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(e.opts.MaxParallel))
	done := make(chan hostDone, len(hosts))
	for i, h := range hosts {
		res.Hosts[i] = h.ID
		go func(h *cluster.Host) {
			done <- hostDone{host: h, hr: e.runHost(ctx, cycleCtx, sem, h, tmpl, params)}
		}(h)
	}

	// Status is written only for results that make it into res, so a host
	// reported as timed out is never marked up by a late answer.
	record := func(d hostDone) {
		res.PerHost[d.host.ID] = d.hr
		if ctx.Err() != nil {
			return
		}
		if d.hr.Err != nil {
			e.writer.MarkDown(d.host, d.hr.Err, e.opts.Now())
		} else {
			e.writer.MarkUp(d.host, e.opts.Now())
		}
	}

	pending := len(hosts)
collect:
	for pending > 0 {
		select {
		case d := <-done:
			record(d)
			pending--
		case <-cycleCtx.Done():
			break collect
		}
	}

	// Drain whatever finished together with the deadline, then report the
	// rest as timed out. Their goroutines exit once the transport returns.
drain:
	for pending > 0 {
		select {
		case d := <-done:
			record(d)
			pending--
		default:
			break drain
		}
	}
	abandoned := ctx.Err() != nil
	now := e.opts.Now()
	for _, h := range hosts {
		if _, ok := res.PerHost[h.ID]; ok {
			continue
		}
		err := &transport.HostError{
			Kind: transport.KindTimeout,
			Host: h.ID,
			Err:  fmt.Errorf("not finished within cycle timeout %s", e.opts.CycleTimeout),
		}
		res.PerHost[h.ID] = HostResult{Err: err, Duration: now.Sub(started)}
		hostsSkipped.WithLabelValues(tmpl.Name()).Inc()
		if !abandoned {
			e.writer.MarkDown(h, err, now)
		}
	}

	res.FinishedAt = e.opts.Now()
	res.Abandoned = ctx.Err() != nil
	if !res.Abandoned {
		observeCycle(tmpl.Name(), res)
	}
	return res
}

// runHost queries one host. parent is the caller's context: once it is
// done, the outcome no longer says anything about the host and is not
// counted.
func (e *Executor) runHost(parent, cycleCtx context.Context, sem *semaphore.Weighted, h *cluster.Host, tmpl *query.Template, params transport.Params) HostResult {
	if err := sem.Acquire(cycleCtx, 1); err != nil {
		return HostResult{Err: transport.Classify(h.ID, err)}
	}
	defer sem.Release(1)

	start := time.Now()
	ctx, cancel := context.WithTimeout(cycleCtx, e.opts.HostTimeout)
	defer cancel()

	rows, err := e.queryHost(ctx, h, tmpl, params)
	elapsed := time.Since(start)

	if parent.Err() != nil {
		return HostResult{Rows: rows, Err: err, Duration: elapsed}
	}

	observeHost(tmpl.Name(), elapsed.Seconds(), err)
	if err != nil {
		e.log.Debug("%s on %s failed: %v", tmpl.Name(), h, err)
		return HostResult{Err: err, Duration: elapsed}
	}
	return HostResult{Rows: rows, Duration: elapsed}
}

func (e *Executor) queryHost(ctx context.Context, h *cluster.Host, tmpl *query.Template, params transport.Params) ([]query.Row, error) {
	st := h.State()
	if st.Version == "" {
		e.learnVersion(ctx, h)
		st = h.State()
	}

	qctx := transport.WithQueryID(ctx, NewQueryID())
	if settings := tmpl.Settings(); len(settings) > 0 {
		qctx = transport.WithSettings(qctx, settings)
	}

	out, err := e.conn.Execute(qctx, h.Address, tmpl.TextFor(st.Quirks), params)
	if err != nil {
		return nil, transport.Classify(h.ID, err)
	}

	rows, err := query.Decode(tmpl, h.ID, out)
	if err != nil {
		return nil, &transport.HostError{Kind: transport.KindQuery, Host: h.ID, Err: err}
	}
	return rows, nil
}

// learnVersion probes the server version once per host. Failures are left
// to the real query to report.
func (e *Executor) learnVersion(ctx context.Context, h *cluster.Host) {
	raw, err := transport.FetchVersion(transport.WithQueryID(ctx, NewQueryID()), e.conn, h.Address)
	if err != nil {
		e.log.Debug("version probe on %s failed: %v", h, err)
		return
	}
	quirks, err := transport.ParseQuirks(raw)
	if err != nil {
		e.log.Warn("host %s reports unparseable version %q: %v", h, raw, err)
	} else if active := quirks.Active(); len(active) > 0 {
		e.log.Info("host %s runs %s, quirks %v", h, raw, active)
	}
	e.writer.SetVersion(h, raw, quirks)
}

// NewQueryID returns a server-visible id for a chdig query.
func NewQueryID() string {
	return query.SelfQueryPrefix + uuid.NewString()
}
