package snapshot

import "sync"

// Store holds one Series per template name.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*Series
}

// NewStore creates a store whose series hold capacity snapshots each.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, series: make(map[string]*Series)}
}

// Series returns the series for template, creating it on first use.
func (s *Store) Series(template string) *Series {
	s.mu.RLock()
	ser, ok := s.series[template]
	s.mu.RUnlock()
	if ok {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok = s.series[template]; ok {
		return ser
	}
	ser = NewSeries(s.capacity)
	s.series[template] = ser
	return ser
}

// Latest returns the newest snapshot of template, or nil.
func (s *Store) Latest(template string) *Snapshot {
	s.mu.RLock()
	ser, ok := s.series[template]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return ser.Latest()
}

// Reset empties every series.
func (s *Store) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ser := range s.series {
		ser.Reset()
	}
}
