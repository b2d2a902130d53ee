// Package testing provides test doubles for the transport package.
package testing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/chdig/internal/transport"
)

// Response is a canned answer for queries matching a pattern.
type Response struct {
	Result  *transport.Result
	Err     error
	Latency time.Duration // Simulated server time; honors ctx cancellation
}

// Call records one Execute invocation.
type Call struct {
	Address  string
	Query    string
	Params   transport.Params
	QueryID  string
	Settings map[string]any
}

type rule struct {
	match string
	resp  Response
}

type fakeHost struct {
	rules   []rule
	failErr error
	latency time.Duration
	hold    chan struct{}
}

// FakeConn simulates a set of ClickHouse hosts for testing.
// Each address answers with responses registered via Respond; queries
// without a matching rule get an empty result.
type FakeConn struct {
	mu     sync.Mutex
	hosts  map[string]*fakeHost
	closed bool

	calls       []Call
	inFlight    int
	maxInFlight int
}

// NewFakeConn creates a fake with no hosts configured.
func NewFakeConn() *FakeConn {
	return &FakeConn{hosts: make(map[string]*fakeHost)}
}

// Rows builds a Result from column names and row values.
func Rows(columns []string, rows ...[]any) *transport.Result {
	return &transport.Result{Columns: columns, Rows: rows}
}

func (f *FakeConn) host(address string) *fakeHost {
	h, ok := f.hosts[address]
	if !ok {
		h = &fakeHost{}
		f.hosts[address] = h
	}
	return h
}

// Respond registers resp for queries on address containing match.
// An empty match matches every query. Later registrations win.
func (f *FakeConn) Respond(address, match string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.host(address)
	h.rules = append(h.rules, rule{match: match, resp: resp})
}

// Fail makes every query on address fail with err until Recover is called.
func (f *FakeConn) Fail(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host(address).failErr = err
}

// Recover clears a failure set with Fail.
func (f *FakeConn) Recover(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host(address).failErr = nil
}

// SetLatency delays every query on address by d.
func (f *FakeConn) SetLatency(address string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host(address).latency = d
}

// Hold blocks queries on address until the returned release func is called
// (or their context ends). Release is idempotent.
func (f *FakeConn) Hold(address string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.host(address).hold = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if h := f.hosts[address]; h.hold == ch {
				h.hold = nil
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Execute implements transport.Conn.
func (f *FakeConn) Execute(ctx context.Context, address, query string, params transport.Params) (*transport.Result, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, transport.Classify(address, errors.New("connection closed"))
	}
	f.calls = append(f.calls, Call{
		Address:  address,
		Query:    query,
		Params:   params,
		QueryID:  transport.QueryID(ctx),
		Settings: transport.Settings(ctx),
	})
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	h := f.host(address)
	failErr, latency, hold := h.failErr, h.latency, h.hold
	resp, matched := h.match(query)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, transport.Classify(address, ctx.Err())
		}
	}

	if matched && resp.Latency > latency {
		latency = resp.Latency
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, transport.Classify(address, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, transport.Classify(address, err)
	}

	if failErr != nil {
		return nil, transport.Classify(address, failErr)
	}
	if !matched {
		return &transport.Result{}, nil
	}
	if resp.Err != nil {
		return nil, transport.Classify(address, resp.Err)
	}
	if resp.Result == nil {
		return &transport.Result{}, nil
	}
	return copyResult(resp.Result), nil
}

func (h *fakeHost) match(query string) (Response, bool) {
	for i := len(h.rules) - 1; i >= 0; i-- {
		r := h.rules[i]
		if r.match == "" || strings.Contains(query, r.match) {
			return r.resp, true
		}
	}
	return Response{}, false
}

// copyResult hands out a fresh copy so callers may not mutate canned data.
func copyResult(r *transport.Result) *transport.Result {
	out := &transport.Result{Columns: append([]string(nil), r.Columns...)}
	for _, row := range r.Rows {
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out
}

// Close implements transport.Conn.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns a copy of every recorded call.
func (f *FakeConn) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many queries were sent to address.
func (f *FakeConn) CallCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Address == address {
			n++
		}
	}
	return n
}

// InFlight returns the number of Execute calls currently running.
func (f *FakeConn) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// MaxInFlight returns the highest concurrent Execute count observed.
func (f *FakeConn) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Reset clears recorded calls and concurrency counters.
func (f *FakeConn) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.maxInFlight = f.inFlight
}

var _ transport.Conn = (*FakeConn)(nil)
