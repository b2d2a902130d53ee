package scheduler

import (
	"context"
	"time"

	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/flamegraph"
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/snapshot"
)

// Cycle is what one tick asks a job to do.
type Cycle struct {
	Epoch  uint64
	Window query.Window
	TopN   int
	Now    time.Time
}

// Commit applies a finished cycle's result. The scheduler calls it under its
// lock, and only if the cycle's epoch is still current, so a commit is the
// one place job state may be mutated.
type Commit func() Update

// Job is one unit of periodic work, usually a single template.
type Job interface {
	Name() string
	// Run does the remote work. A nil Commit means there is nothing to apply.
	Run(ctx context.Context, c Cycle) Commit
	// Reset drops accumulated state after a window change.
	Reset()
}

// SnapshotJob merges one template's fan-out into a series.
type SnapshotJob struct {
	exec   *fanout.Executor
	tmpl   *query.Template
	series *snapshot.Series
	order  query.Ordering
}

// NewSnapshotJob creates a job for tmpl appending to series. A nil order
// uses the template's own.
func NewSnapshotJob(exec *fanout.Executor, tmpl *query.Template, series *snapshot.Series, order query.Ordering) *SnapshotJob {
	return &SnapshotJob{exec: exec, tmpl: tmpl, series: series, order: order}
}

// Name returns the template name.
func (j *SnapshotJob) Name() string { return j.tmpl.Name() }

// Series returns the series the job appends to.
func (j *SnapshotJob) Series() *snapshot.Series { return j.series }

// Run executes one cycle.
func (j *SnapshotJob) Run(ctx context.Context, c Cycle) Commit {
	res := j.exec.Execute(ctx, j.tmpl, c.Window)
	if res.Abandoned {
		return nil
	}
	snap, err := snapshot.Merge(res, j.order, c.TopN)
	return func() Update {
		u := Update{Kind: UpdateError, Job: j.Name(), Epoch: c.Epoch, At: res.FinishedAt}
		if err != nil {
			u.Err = err
			return u
		}
		if err := j.series.Append(snap); err != nil {
			u.Err = err
			return u
		}
		u.Kind = UpdateSnapshot
		u.Snapshot = snap
		u.TotalFailure = snap.TotalFailure()
		return u
	}
}

// Reset clears the series so rates never span two windows.
func (j *SnapshotJob) Reset() { j.series.Reset() }

// ProfileJob rebuilds a live flamegraph every cycle.
type ProfileJob struct {
	session *profile.LiveSession
}

// NewProfileJob wraps session.
func NewProfileJob(session *profile.LiveSession) *ProfileJob {
	return &ProfileJob{session: session}
}

// Name returns "flamegraph_<type>".
func (j *ProfileJob) Name() string { return "flamegraph_" + j.session.Type().String() }

// Session returns the wrapped session.
func (j *ProfileJob) Session() *profile.LiveSession { return j.session }

// Run builds a fresh tree; the commit publishes it.
func (j *ProfileJob) Run(ctx context.Context, c Cycle) Commit {
	tree, err := j.session.Build(ctx, c.Window)
	if ctx.Err() != nil {
		return nil
	}
	var fp uint64
	if err == nil {
		fp = flamegraph.Fingerprint(tree.Root)
	}
	return func() Update {
		u := Update{Kind: UpdateError, Job: j.Name(), Epoch: c.Epoch, At: c.Now}
		if err != nil {
			u.Err = err
			u.TotalFailure = true
			return u
		}
		j.session.Swap(tree)
		u.Kind = UpdateFlamegraph
		u.At = tree.BuiltAt
		u.Tree = tree
		u.Fingerprint = fp
		return u
	}
}

// Reset forgets the current tree.
func (j *ProfileJob) Reset() { j.session.Reset() }
