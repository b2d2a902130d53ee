package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// Topology is the ordered set of hosts of one session. Hosts are unique by ID
// and keep their position; hosts dropped by discovery are retired, never removed,
// so references held by in-flight cycles stay valid.
type Topology struct {
	mu    sync.RWMutex
	hosts []*Host
	byID  map[string]*Host

	writerClaimed atomic.Bool
}

// NewTopology builds a topology from specs in the given order.
func NewTopology(specs []HostSpec) (*Topology, error) {
	if len(specs) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"Topology has no hosts",
			"Configure 'hosts' or a 'url' seed host.")
	}

	t := &Topology{byID: make(map[string]*Host, len(specs))}
	for _, spec := range specs {
		if spec.ID == "" || spec.Address == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Host %q is missing an id or address", spec.ID+spec.Address),
				"Every host needs an address; id defaults to it.")
		}
		if _, dup := t.byID[spec.ID]; dup {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Host id '%s' appears more than once", spec.ID),
				"Host ids must be unique across the topology.")
		}
		h := newHost(spec)
		t.hosts = append(t.hosts, h)
		t.byID[spec.ID] = h
	}
	return t, nil
}

// SpecsFromConfig converts configured hosts to specs.
func SpecsFromConfig(entries []config.HostEntry) ([]HostSpec, error) {
	specs := make([]HostSpec, 0, len(entries))
	for _, e := range entries {
		role, err := ParseRole(e.Role)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Host '%s' has an invalid role", e.ID),
				"Use 'shard' or 'replica'.")
		}
		id := e.ID
		if id == "" {
			id = e.Address
		}
		specs = append(specs, HostSpec{ID: id, Address: e.Address, Role: role, Shard: e.Shard, Replica: e.Replica})
	}
	return specs, nil
}

// Hosts returns every host, retired ones included, in topology order.
func (t *Topology) Hosts() []*Host {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Host(nil), t.hosts...)
}

// Active returns the hosts that have not been retired, in topology order.
func (t *Topology) Active() []*Host {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Host, 0, len(t.hosts))
	for _, h := range t.hosts {
		if !h.Retired() {
			out = append(out, h)
		}
	}
	return out
}

// Host looks up a host by ID.
func (t *Topology) Host(id string) (*Host, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byID[id]
	return h, ok
}

// Len returns the number of hosts, retired ones included.
func (t *Topology) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hosts)
}

// Counts returns how many active hosts are up, down and unknown.
func (t *Topology) Counts() (up, down, unknown int) {
	for _, h := range t.Active() {
		switch h.Status() {
		case StatusUp:
			up++
		case StatusDown:
			down++
		default:
			unknown++
		}
	}
	return up, down, unknown
}

// RefreshResult summarizes the effect of Refresh.
type RefreshResult struct {
	Added       []string
	Retired     []string
	Reactivated []string
	// Conflicts lists ids that came back with a different address; the
	// original address is kept.
	Conflicts []string
}

// Changed reports whether the active host set changed.
func (r RefreshResult) Changed() bool {
	return len(r.Added)+len(r.Retired)+len(r.Reactivated) > 0
}

// Refresh reconciles the topology with a new discovery result. New hosts are
// appended, missing hosts are retired and returning hosts are reactivated.
func (t *Topology) Refresh(specs []HostSpec) RefreshResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res RefreshResult
	present := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" || spec.Address == "" || present[spec.ID] {
			continue
		}
		present[spec.ID] = true

		h, ok := t.byID[spec.ID]
		if !ok {
			h = newHost(spec)
			t.hosts = append(t.hosts, h)
			t.byID[spec.ID] = h
			res.Added = append(res.Added, spec.ID)
			continue
		}
		if h.Address != spec.Address {
			res.Conflicts = append(res.Conflicts, spec.ID)
		}
		if h.retired.CompareAndSwap(true, false) {
			res.Reactivated = append(res.Reactivated, spec.ID)
		}
	}

	for _, h := range t.hosts {
		if !present[h.ID] && h.retired.CompareAndSwap(false, true) {
			res.Retired = append(res.Retired, h.ID)
		}
	}
	return res
}

// ClaimWriter hands out the topology's only StatusWriter. A second call
// panics: two writers would race on liveness and that is a wiring bug.
func (t *Topology) ClaimWriter() *StatusWriter {
	if !t.writerClaimed.CompareAndSwap(false, true) {
		panic("cluster: status writer already claimed")
	}
	return &StatusWriter{t: t}
}

// StatusWriter is the sole mutator of host liveness.
type StatusWriter struct {
	t *Topology
}

// MarkUp records a successful query on host.
func (w *StatusWriter) MarkUp(host *Host, at time.Time) {
	w.update(host, func(st HostState) HostState {
		st.Status = StatusUp
		st.LastError = nil
		st.UpdatedAt = at
		return st
	})
}

// MarkDown records a failed query on host.
func (w *StatusWriter) MarkDown(host *Host, err error, at time.Time) {
	w.update(host, func(st HostState) HostState {
		st.Status = StatusDown
		st.LastError = err
		st.UpdatedAt = at
		return st
	})
}

// SetVersion records the server version and its quirks without touching liveness.
func (w *StatusWriter) SetVersion(host *Host, version string, quirks transport.Quirks) {
	w.update(host, func(st HostState) HostState {
		st.Version = version
		st.Quirks = quirks
		return st
	})
}

// update swaps in a new state derived from the current one. Concurrent cycles
// of different jobs may report on the same host, hence the CAS loop.
func (w *StatusWriter) update(host *Host, fn func(HostState) HostState) {
	for {
		prev := host.state.Load()
		next := fn(*prev)
		if host.state.CompareAndSwap(prev, &next) {
			return
		}
	}
}

// Topology returns the topology this writer belongs to.
func (w *StatusWriter) Topology() *Topology {
	return w.t
}
