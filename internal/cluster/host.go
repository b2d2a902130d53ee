// Package cluster models the set of ClickHouse hosts a session observes.
//
// Host identity and order are fixed for the lifetime of a Topology. Liveness
// is updated through exactly one StatusWriter; everything else only reads.
package cluster

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/chdig/internal/transport"
)

// Role is the position of a host in the cluster layout.
type Role int

const (
	RoleShard Role = iota
	RoleReplica
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleShard:
		return "shard"
	case RoleReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// ParseRole parses "shard" or "replica" (case-insensitive). Empty means shard.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shard":
		return RoleShard, nil
	case "replica":
		return RoleReplica, nil
	default:
		return RoleShard, fmt.Errorf("unknown role %q", s)
	}
}

// Status is the liveness of a host as of its last query.
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// HostState is an immutable liveness record. A new value replaces the old
// one on every update, so readers never observe a torn state.
type HostState struct {
	Status    Status
	LastError error
	// Version is the server version, once learned.
	Version   string
	Quirks    transport.Quirks
	UpdatedAt time.Time
}

// Host is one server in the topology. ID, Address, Role, Shard and Replica
// never change after construction.
type Host struct {
	ID      string
	Address string
	Role    Role
	Shard   int
	Replica int

	state   atomic.Pointer[HostState]
	retired atomic.Bool
}

func newHost(spec HostSpec) *Host {
	h := &Host{
		ID:      spec.ID,
		Address: spec.Address,
		Role:    spec.Role,
		Shard:   spec.Shard,
		Replica: spec.Replica,
	}
	h.state.Store(&HostState{Status: StatusUnknown})
	return h
}

// State returns the current liveness record. Retired hosts report Unknown.
func (h *Host) State() HostState {
	st := *h.state.Load()
	if h.retired.Load() {
		st.Status = StatusUnknown
	}
	return st
}

// Status returns the current liveness status.
func (h *Host) Status() Status {
	return h.State().Status
}

// Retired reports whether discovery no longer lists this host.
func (h *Host) Retired() bool {
	return h.retired.Load()
}

// String renders the host as "id (address)".
func (h *Host) String() string {
	if h.ID == h.Address {
		return h.ID
	}
	return fmt.Sprintf("%s (%s)", h.ID, h.Address)
}

// HostSpec describes a host to add to a topology.
type HostSpec struct {
	ID      string
	Address string
	Role    Role
	Shard   int
	Replica int
}
