// Package snapshot merges per-host fan-out results into ordered cluster-wide
// snapshots and keeps a bounded history of them for rate computation.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/query"
)

// ErrDuplicateKey means two rows of one merge share a host-qualified key.
// Keys are unique per host by construction, so this is a template or driver
// bug and is never merged away.
var ErrDuplicateKey = errors.New("duplicate row key")

// Snapshot is one merged, ordered, timestamped result set of a template.
type Snapshot struct {
	Template  string
	Timestamp time.Time
	// Rows is the full ordered set; Top truncates for display.
	Rows []query.Row
	// Failed lists hosts whose entry was an error, in topology order.
	Failed []string
	// Errors holds the error of each failed host.
	Errors map[string]error
	// Hosts is the number of hosts the cycle queried.
	Hosts int
	// TopN is the render limit in effect when the snapshot was taken; 0
	// means unlimited.
	TopN int

	WindowStart time.Time
	WindowEnd   time.Time

	index map[query.RowKey]int
}

// Merge flattens a fan-out result into a Snapshot. Rows are sorted by order,
// ties broken by key. topN is recorded for display consumers but the
// snapshot keeps every row.
func Merge(res *fanout.Result, order query.Ordering, topN int) (*Snapshot, error) {
	snap := &Snapshot{
		Timestamp:   res.StartedAt,
		Errors:      make(map[string]error),
		Hosts:       len(res.Hosts),
		TopN:        topN,
		WindowStart: res.WindowStart,
		WindowEnd:   res.WindowEnd,
		Rows:        make([]query.Row, 0, res.RowCount()),
	}
	if res.Template != nil {
		snap.Template = res.Template.Name()
		if order == nil {
			order = res.Template.Order()
		}
	}

	seen := make(map[query.RowKey]struct{}, res.RowCount())
	for _, id := range res.Hosts {
		hr := res.PerHost[id]
		if !hr.OK() {
			snap.Failed = append(snap.Failed, id)
			snap.Errors[id] = hr.Err
			continue
		}
		for _, row := range hr.Rows {
			if _, dup := seen[row.Key]; dup {
				return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateKey, row.Key, snap.Template)
			}
			seen[row.Key] = struct{}{}
			snap.Rows = append(snap.Rows, row)
		}
	}

	sortRows(snap.Rows, order)
	snap.reindex()
	return snap, nil
}

// New builds a snapshot from already merged rows, sorting them by order.
func New(template string, ts time.Time, rows []query.Row, order query.Ordering) *Snapshot {
	snap := &Snapshot{
		Template:  template,
		Timestamp: ts,
		Rows:      append([]query.Row(nil), rows...),
		Errors:    make(map[string]error),
	}
	sortRows(snap.Rows, order)
	snap.reindex()
	return snap
}

func sortRows(rows []query.Row, order query.Ordering) {
	sort.SliceStable(rows, func(i, j int) bool {
		if order != nil {
			if c := order(&rows[i], &rows[j]); c != 0 {
				return c < 0
			}
		}
		return rows[i].Key.Compare(rows[j].Key) < 0
	})
}

func (s *Snapshot) reindex() {
	s.index = make(map[query.RowKey]int, len(s.Rows))
	for i := range s.Rows {
		s.index[s.Rows[i].Key] = i
	}
}

// Top returns the first n rows. n <= 0 returns all rows. The result shares
// storage with the snapshot and must not be modified.
func (s *Snapshot) Top(n int) []query.Row {
	if n <= 0 || n >= len(s.Rows) {
		return s.Rows
	}
	return s.Rows[:n]
}

// Visible returns the rows within the snapshot's own TopN.
func (s *Snapshot) Visible() []query.Row {
	return s.Top(s.TopN)
}

// Row finds a row by key.
func (s *Snapshot) Row(key query.RowKey) (*query.Row, bool) {
	if s.index == nil {
		for i := range s.Rows {
			if s.Rows[i].Key == key {
				return &s.Rows[i], true
			}
		}
		return nil, false
	}
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return &s.Rows[i], true
}

// Partial reports that some, but not all, hosts failed.
func (s *Snapshot) Partial() bool {
	return len(s.Failed) > 0 && len(s.Failed) < s.Hosts
}

// TotalFailure reports that every queried host failed.
func (s *Snapshot) TotalFailure() bool {
	return s.Hosts > 0 && len(s.Failed) == s.Hosts
}

// Rate returns the per-second change of metric for key between prev and
// cur. It is absent (false) when either snapshot lacks the row or the
// metric, or when the snapshots are not in time order.
func Rate(prev, cur *Snapshot, key query.RowKey, metric string) (float64, bool) {
	if prev == nil || cur == nil {
		return 0, false
	}
	dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return 0, false
	}
	pr, ok := prev.Row(key)
	if !ok {
		return 0, false
	}
	cr, ok := cur.Row(key)
	if !ok {
		return 0, false
	}
	pv, ok := pr.Metrics[metric]
	if !ok {
		return 0, false
	}
	cv, ok := cr.Metrics[metric]
	if !ok {
		return 0, false
	}
	return (cv - pv) / dt, true
}
