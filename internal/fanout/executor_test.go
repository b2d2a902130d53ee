package fanout

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
	fake "github.com/rileyhilliard/chdig/internal/transport/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(id string) string { return id + ":9000" }

func newTemplate(name string) *query.Template {
	return query.MustTemplate(query.Spec{
		Name:    name,
		Text:    "SELECT id, v FROM " + name,
		Columns: []query.Column{query.Key("id"), query.Metric("v", query.UnitCount)},
		Order:   query.ByMetricDesc("v"),
	})
}

type harness struct {
	topo *cluster.Topology
	conn *fake.FakeConn
	exec *Executor
	log  *logger.BufferLogger
}

func newHarness(t *testing.T, opts Options, ids ...string) *harness {
	t.Helper()
	specs := make([]cluster.HostSpec, len(ids))
	for i, id := range ids {
		specs[i] = cluster.HostSpec{ID: id, Address: addr(id)}
	}
	topo, err := cluster.NewTopology(specs)
	require.NoError(t, err)

	conn := fake.NewFakeConn()
	for _, id := range ids {
		conn.Respond(addr(id), "version()", fake.Response{
			Result: fake.Rows([]string{"version()"}, []any{"24.3.1.1"}),
		})
	}
	log := logger.NewBufferLogger()
	return &harness{topo: topo, conn: conn, exec: NewExecutor(conn, topo.ClaimWriter(), opts, log), log: log}
}

func (h *harness) serve(id, table string, rows ...[]any) {
	h.conn.Respond(addr(id), "FROM "+table, fake.Response{Result: fake.Rows([]string{"id", "v"}, rows...)})
}

func (h *harness) status(id string) cluster.Status {
	host, _ := h.topo.Host(id)
	return host.Status()
}

func TestExecute_AllHosts(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b", "c")
	tmpl := newTemplate("all_hosts")
	h.serve("a", "all_hosts", []any{"q1", uint64(1)}, []any{"q2", uint64(2)})
	h.serve("b", "all_hosts", []any{"q1", uint64(5)})
	h.serve("c", "all_hosts")

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	assert.Equal(t, []string{"a", "b", "c"}, res.Hosts)
	require.Len(t, res.PerHost, 3)
	assert.Empty(t, res.Failed())
	assert.False(t, res.AllFailed())
	assert.False(t, res.Abandoned)
	assert.Equal(t, 3, res.RowCount())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	// Native ids collide across hosts; keys do not.
	assert.Equal(t, query.RowKey{HostID: "a", NativeID: "q1"}, res.PerHost["a"].Rows[0].Key)
	assert.Equal(t, query.RowKey{HostID: "b", NativeID: "q1"}, res.PerHost["b"].Rows[0].Key)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, cluster.StatusUp, h.status(id))
		host, _ := h.topo.Host(id)
		assert.Equal(t, "24.3.1.1", host.State().Version)
	}

	for _, c := range h.conn.Calls() {
		assert.True(t, strings.HasPrefix(c.QueryID, query.SelfQueryPrefix), c.QueryID)
	}
}

func TestExecute_VersionProbedOnce(t *testing.T) {
	h := newHarness(t, Options{}, "a")
	tmpl := newTemplate("probe_once")
	h.serve("a", "probe_once")

	h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))
	h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	probes := 0
	for _, c := range h.conn.Calls() {
		if strings.Contains(c.Query, "version()") {
			probes++
		}
	}
	assert.Equal(t, 1, probes)
	assert.Equal(t, 3, h.conn.CallCount(addr("a")))
}

func TestExecute_PartialOutage(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b", "c")
	tmpl := newTemplate("partial_outage")
	h.serve("a", "partial_outage", []any{"x", uint64(1)})
	h.serve("c", "partial_outage", []any{"y", uint64(2)})
	h.conn.Fail(addr("b"), syscall.ECONNREFUSED)

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	require.Len(t, res.PerHost, 3, "failed hosts still get an entry")
	assert.Equal(t, []string{"b"}, res.Failed())
	assert.Equal(t, []string{"a", "c"}, res.Succeeded())

	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["b"].Err, &he)
	assert.Equal(t, transport.KindUnreachable, he.Kind)

	assert.Equal(t, cluster.StatusUp, h.status("a"))
	assert.Equal(t, cluster.StatusDown, h.status("b"))
	assert.Equal(t, cluster.StatusUp, h.status("c"))

	b, _ := h.topo.Host("b")
	assert.ErrorIs(t, b.State().LastError, syscall.ECONNREFUSED)

	assert.Equal(t, 1.0, testutil.ToFloat64(hostQueryErrors.WithLabelValues("partial_outage", "unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("partial_outage", "partial")))

	// b recovers on the next cycle.
	h.conn.Recover(addr("b"))
	res = h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))
	assert.Empty(t, res.Failed())
	assert.Equal(t, cluster.StatusUp, h.status("b"))
}

func TestExecute_TotalOutage(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b")
	tmpl := newTemplate("total_outage")
	h.conn.Fail(addr("a"), syscall.ECONNREFUSED)
	h.conn.Fail(addr("b"), errors.New("Code: 497. Not enough privileges"))

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	require.NotNil(t, res)
	require.Len(t, res.PerHost, 2)
	assert.True(t, res.AllFailed())
	assert.Equal(t, 0, res.RowCount())

	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["b"].Err, &he)
	assert.Equal(t, transport.KindQuery, he.Kind)
	assert.Contains(t, he.Error(), "Not enough privileges")

	assert.Equal(t, 1.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("total_outage", "failed")))
}

func TestExecute_BoundedParallelism(t *testing.T) {
	ids := []string{"h0", "h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8", "h9"}
	h := newHarness(t, Options{MaxParallel: 3}, ids...)
	tmpl := newTemplate("bounded")
	for _, id := range ids {
		h.serve(id, "bounded", []any{"x", uint64(1)})
		h.conn.SetLatency(addr(id), 10*time.Millisecond)
	}

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	assert.Empty(t, res.Failed())
	assert.LessOrEqual(t, h.conn.MaxInFlight(), 3)
	assert.Greater(t, h.conn.MaxInFlight(), 1, "hosts run concurrently")
}

func TestExecute_HostTimeout(t *testing.T) {
	h := newHarness(t, Options{HostTimeout: 20 * time.Millisecond}, "a", "b")
	tmpl := newTemplate("host_timeout")
	h.serve("a", "host_timeout", []any{"x", uint64(1)})
	h.conn.Respond(addr("b"), "host_timeout", fake.Response{Latency: time.Second})

	start := time.Now()
	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["b"].Err, &he)
	assert.Equal(t, transport.KindTimeout, he.Kind)
	assert.Equal(t, cluster.StatusDown, h.status("b"))
	assert.True(t, res.PerHost["a"].OK())
}

func TestExecute_CycleDeadline(t *testing.T) {
	h := newHarness(t, Options{HostTimeout: 5 * time.Second, CycleTimeout: 50 * time.Millisecond}, "a", "b")
	tmpl := newTemplate("cycle_deadline")
	h.serve("a", "cycle_deadline", []any{"x", uint64(1)})
	release := h.conn.Hold(addr("b"))
	t.Cleanup(release)

	start := time.Now()
	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))
	assert.Less(t, time.Since(start), time.Second, "deadline bounds the cycle")

	require.Len(t, res.PerHost, 2)
	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["b"].Err, &he)
	assert.Equal(t, transport.KindTimeout, he.Kind)
	assert.Equal(t, cluster.StatusDown, h.status("b"))
	assert.False(t, res.Abandoned)
}

// lateConn answers queries matching match only after release is closed,
// whatever their context says.
type lateConn struct {
	*fake.FakeConn
	match    string
	release  chan struct{}
	answered chan struct{}
}

func (c *lateConn) Execute(ctx context.Context, address, q string, params transport.Params) (*transport.Result, error) {
	if !strings.Contains(q, c.match) {
		return c.FakeConn.Execute(ctx, address, q, params)
	}
	<-c.release
	defer close(c.answered)
	return c.FakeConn.Execute(context.Background(), address, q, params)
}

func TestExecute_LateAnswerKeepsTimeoutStatus(t *testing.T) {
	topo, err := cluster.NewTopology([]cluster.HostSpec{{ID: "a", Address: addr("a")}})
	require.NoError(t, err)
	inner := fake.NewFakeConn()
	inner.Respond(addr("a"), "version()", fake.Response{Result: fake.Rows([]string{"version()"}, []any{"24.3.1.1"})})
	inner.Respond(addr("a"), "FROM late_answer", fake.Response{Result: fake.Rows([]string{"id", "v"}, []any{"x", uint64(1)})})
	conn := &lateConn{FakeConn: inner, match: "late_answer", release: make(chan struct{}), answered: make(chan struct{})}
	exec := NewExecutor(conn, topo.ClaimWriter(), Options{CycleTimeout: 30 * time.Millisecond}, logger.NewBufferLogger())

	res := exec.Execute(context.Background(), newTemplate("late_answer"), query.LiveWindow(time.Hour))
	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["a"].Err, &he)
	assert.Equal(t, transport.KindTimeout, he.Kind)

	host, _ := topo.Host("a")
	require.Equal(t, cluster.StatusDown, host.Status())

	// The answer arrives after the cycle reported a timeout.
	close(conn.release)
	<-conn.answered
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, cluster.StatusDown, host.Status(), "status matches the reported result")
}

func TestExecute_AbandonedLeavesStatus(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b")
	tmpl := newTemplate("abandoned")
	h.serve("a", "abandoned", []any{"x", uint64(1)})
	release := h.conn.Hold(addr("b"))
	t.Cleanup(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Wait for a to finish, then give up on the cycle.
		for h.status("a") != cluster.StatusUp {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := h.exec.Execute(ctx, tmpl, query.LiveWindow(time.Hour))

	assert.True(t, res.Abandoned)
	require.Len(t, res.PerHost, 2)
	assert.False(t, res.PerHost["b"].OK())
	assert.Equal(t, cluster.StatusUp, h.status("a"))
	assert.Equal(t, cluster.StatusUnknown, h.status("b"), "cancelled cycles say nothing about the host")
}

func TestExecute_SkipsRetiredHosts(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b", "c")
	tmpl := newTemplate("retired")
	h.topo.Refresh([]cluster.HostSpec{{ID: "a", Address: addr("a")}, {ID: "b", Address: addr("b")}})

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	assert.Equal(t, []string{"a", "b"}, res.Hosts)
	assert.NotContains(t, res.PerHost, "c")
	assert.Zero(t, h.conn.CallCount(addr("c")))
}

func TestExecute_WindowParams(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, Options{Now: func() time.Time { return now }}, "a")
	tmpl := query.MustTemplate(query.Spec{
		Name:     "windowed",
		Text:     "SELECT id, v FROM windowed WHERE t >= @start AND t < @end",
		Columns:  []query.Column{query.Key("id"), query.Metric("v", query.UnitNone)},
		Windowed: true,
	})

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(30*time.Minute))
	assert.Equal(t, now.Add(-30*time.Minute), res.WindowStart)
	assert.Equal(t, now, res.WindowEnd)

	var params transport.Params
	for _, c := range h.conn.Calls() {
		if strings.Contains(c.Query, "FROM windowed") {
			params = c.Params
		}
	}
	require.NotNil(t, params)
	assert.Equal(t, now.Add(-30*time.Minute), params["start"])
	assert.Equal(t, now, params["end"])

	// Unwindowed templates get no parameters.
	h.conn.Reset()
	h.exec.Execute(context.Background(), newTemplate("plain"), query.LiveWindow(time.Hour))
	for _, c := range h.conn.Calls() {
		assert.Nil(t, c.Params)
	}
}

func TestExecute_QuirkVariantAndSettings(t *testing.T) {
	h := newHarness(t, Options{}, "old", "new")
	h.conn.Respond(addr("old"), "version()", fake.Response{
		Result: fake.Rows([]string{"version()"}, []any{"23.1.2.9"}),
	})
	tmpl := query.MustTemplate(query.Spec{
		Name:     "variant",
		Text:     "SELECT id, v FROM base",
		Columns:  []query.Column{query.Key("id"), query.Metric("v", query.UnitNone)},
		Variants: map[transport.Quirk]string{transport.QuirkProcessedElapsed: "SELECT id, v FROM patched"},
		Settings: map[string]any{"max_threads": 1},
	})

	h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	texts := map[string]string{}
	for _, c := range h.conn.Calls() {
		if strings.Contains(c.Query, "version()") {
			continue
		}
		texts[c.Address] = c.Query
		assert.Equal(t, map[string]any{"max_threads": 1}, c.Settings)
	}
	assert.Equal(t, "SELECT id, v FROM patched", texts[addr("old")])
	assert.Equal(t, "SELECT id, v FROM base", texts[addr("new")])
	assert.True(t, h.log.Contains("info", "quirks"))
}

func TestExecute_DecodeFailureIsQueryError(t *testing.T) {
	h := newHarness(t, Options{}, "a")
	tmpl := newTemplate("decode_failure")
	h.conn.Respond(addr("a"), "decode_failure", fake.Response{
		Result: fake.Rows([]string{"id"}, []any{"x"}),
	})

	res := h.exec.Execute(context.Background(), tmpl, query.LiveWindow(time.Hour))

	var he *transport.HostError
	require.ErrorAs(t, res.PerHost["a"].Err, &he)
	assert.Equal(t, transport.KindQuery, he.Kind)
	assert.Contains(t, he.Error(), `no column "v"`)
	assert.Equal(t, cluster.StatusDown, h.status("a"))
}

func TestNewQueryID(t *testing.T) {
	a, b := NewQueryID(), NewQueryID()
	assert.True(t, strings.HasPrefix(a, "chdig-"))
	assert.NotEqual(t, a, b)
}

func TestExecuteWith_ExtraParams(t *testing.T) {
	h := newHarness(t, Options{}, "a")
	tmpl := newTemplate("extra_params")

	h.exec.ExecuteWith(context.Background(), tmpl, query.LiveWindow(time.Hour), transport.Params{"query_ids": []string{"q1"}})

	var found bool
	for _, c := range h.conn.Calls() {
		if strings.Contains(c.Query, "FROM extra_params") {
			found = true
			assert.Equal(t, transport.Params{"query_ids": []string{"q1"}}, c.Params)
		}
	}
	assert.True(t, found)
}
