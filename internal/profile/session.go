package profile

import (
	"context"
	"sync/atomic"

	"github.com/rileyhilliard/chdig/internal/query"
)

// LiveSession keeps the latest tree of a repeatedly refreshed profile.
// Each refresh builds a fresh tree and swaps it in whole, so readers always
// see one complete tree.
type LiveSession struct {
	collector *Collector
	typ       Type
	queryIDs  []string

	current atomic.Pointer[Tree]
}

// NewLiveSession creates a session for type t. queryIDs narrows the
// samples to those queries when set.
func NewLiveSession(c *Collector, t Type, queryIDs []string) *LiveSession {
	ids := make([]string, len(queryIDs))
	copy(ids, queryIDs)
	return &LiveSession{collector: c, typ: t, queryIDs: ids}
}

// Type returns the session's profile type.
func (s *LiveSession) Type() Type { return s.typ }

// Build makes a new tree without publishing it.
func (s *LiveSession) Build(ctx context.Context, window query.Window) (*Tree, error) {
	return s.collector.Build(ctx, s.typ, window, s.queryIDs)
}

// Refresh builds a new tree and publishes it. On error the previous tree
// stays current.
func (s *LiveSession) Refresh(ctx context.Context, window query.Window) (*Tree, error) {
	tree, err := s.Build(ctx, window)
	if err != nil {
		return nil, err
	}
	s.current.Store(tree)
	return tree, nil
}

// Swap publishes tree and returns the one it replaced.
func (s *LiveSession) Swap(tree *Tree) *Tree {
	return s.current.Swap(tree)
}

// Current returns the latest tree, or nil before the first refresh.
func (s *LiveSession) Current() *Tree {
	return s.current.Load()
}

// Reset forgets the current tree and the symbol cache.
func (s *LiveSession) Reset() {
	s.current.Store(nil)
	if sym := s.collector.Symbolizer(); sym != nil {
		sym.Reset()
	}
}
