package scheduler

import (
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/snapshot"
)

// State is the scheduler's mode as the user sees it.
type State int

const (
	Running State = iota
	Paused
	// Seeking re-queries a fixed historical window on every tick.
	Seeking
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// UpdateKind tags what an Update carries.
type UpdateKind int

const (
	UpdateSnapshot UpdateKind = iota
	UpdateFlamegraph
	UpdateError
	UpdateKill
	UpdateTopology
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateSnapshot:
		return "snapshot"
	case UpdateFlamegraph:
		return "flamegraph"
	case UpdateError:
		return "error"
	case UpdateKill:
		return "kill"
	case UpdateTopology:
		return "topology"
	default:
		return "unknown"
	}
}

// KillResult identifies the query a kill request targeted.
type KillResult struct {
	HostID  string
	QueryID string
}

// Update is published for every committed cycle and one-off action.
type Update struct {
	Kind  UpdateKind
	Job   string
	Epoch uint64
	At    time.Time
	Err   error

	Snapshot *snapshot.Snapshot
	// TotalFailure is set when no host answered the cycle.
	TotalFailure bool

	Tree *profile.Tree
	// Fingerprint of the tree's folded form; unchanged trees repeat it.
	Fingerprint uint64

	Kill     *KillResult
	Topology cluster.RefreshResult
}

// Info is a consistent view of the scheduler's settings.
type Info struct {
	State  State
	Window query.Window
	TopN   int
	Epoch  uint64
	Jobs   []string
}
