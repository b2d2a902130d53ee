package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rileyhilliard/chdig/internal/query"
)

// DefaultCapacity is the default number of snapshots kept per template.
const DefaultCapacity = 60

// ErrOutOfOrder is returned when a snapshot is not newer than the latest one.
var ErrOutOfOrder = errors.New("snapshot timestamp is not after the latest")

// Series is a bounded history of snapshots for one template, oldest evicted
// first. Timestamps strictly increase. Appends come from the scheduler only;
// readers may run concurrently.
type Series struct {
	mu    sync.RWMutex
	data  []*Snapshot
	head  int
	count int
}

// NewSeries creates a series holding up to capacity snapshots.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series{data: make([]*Snapshot, capacity)}
}

// Append adds snap as the newest entry, evicting the oldest when full.
func (s *Series) Append(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest := s.at(s.count - 1); latest != nil && !snap.Timestamp.After(latest.Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			snap.Timestamp.Format("15:04:05.000"), latest.Timestamp.Format("15:04:05.000"))
	}

	s.data[s.head] = snap
	s.head = (s.head + 1) % len(s.data)
	if s.count < len(s.data) {
		s.count++
	}
	return nil
}

// at returns the i-th snapshot, oldest first. Callers hold the lock.
func (s *Series) at(i int) *Snapshot {
	if i < 0 || i >= s.count {
		return nil
	}
	start := (s.head - s.count + len(s.data)) % len(s.data)
	return s.data[(start+i)%len(s.data)]
}

// Len returns the number of stored snapshots.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Cap returns the capacity.
func (s *Series) Cap() int {
	return len(s.data)
}

// Latest returns the newest snapshot, or nil.
func (s *Series) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at(s.count - 1)
}

// Previous returns the snapshot before the newest, or nil.
func (s *Series) Previous() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at(s.count - 2)
}

// Snapshots returns stored snapshots, oldest first.
func (s *Series) Snapshots() []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Snapshot, s.count)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

// Rate is the rate of metric for key between the two newest snapshots.
func (s *Series) Rate(key query.RowKey, metric string) (float64, bool) {
	s.mu.RLock()
	prev, cur := s.at(s.count-2), s.at(s.count-1)
	s.mu.RUnlock()
	return Rate(prev, cur, key, metric)
}

// Rates computes the rate of metric for every row of the newest snapshot.
// Rows without a previous counterpart are absent from the map.
func (s *Series) Rates(metric string) map[query.RowKey]float64 {
	s.mu.RLock()
	prev, cur := s.at(s.count-2), s.at(s.count-1)
	s.mu.RUnlock()

	out := make(map[query.RowKey]float64)
	if cur == nil {
		return out
	}
	for i := range cur.Rows {
		key := cur.Rows[i].Key
		if r, ok := Rate(prev, cur, key, metric); ok {
			out[key] = r
		}
	}
	return out
}

// Values returns the last count values of metric for key, oldest first.
// Snapshots without the row are skipped. Used for sparklines.
func (s *Series) Values(key query.RowKey, metric string, count int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []float64
	first := s.count - count
	if count <= 0 || first < 0 {
		first = 0
	}
	for i := first; i < s.count; i++ {
		if row, ok := s.at(i).Row(key); ok {
			if v, ok := row.Metrics[metric]; ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// Reset drops every stored snapshot. Called when the time window jumps, so
// rates never span two windows.
func (s *Series) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = nil
	}
	s.head, s.count = 0, 0
}
