package profile

import (
	"fmt"
	"slices"
)

// Builder accumulates samples into a tree.
type Builder struct {
	typ      Type
	root     *Node
	samples  int
	rejected int
}

// NewBuilder starts an empty tree for samples of type t.
func NewBuilder(t Type) *Builder {
	return &Builder{typ: t, root: NewRoot()}
}

// Add records s. A sample is rejected and counted when its weight is below
// one or its stack is missing or holds an empty frame. Unsymbolized addresses are kept as hex frames.
func (b *Builder) Add(s Sample) bool {
	frames := s.Frames
	if len(frames) == 0 && len(s.Addrs) > 0 {
		frames = HexFrames(s.Addrs)
	}
	if len(frames) == 0 || s.Weight < 1 || slices.Contains(frames, "") {
		b.rejected++
		return false
	}
	b.root.Add(frames, s.Weight)
	b.samples++
	return true
}

// Type returns the profile type being built.
func (b *Builder) Type() Type { return b.typ }

// Root returns the tree built so far.
func (b *Builder) Root() *Node { return b.root }

// Samples counts accepted samples.
func (b *Builder) Samples() int { return b.samples }

// Rejected counts dropped samples.
func (b *Builder) Rejected() int { return b.rejected }

// Build aggregates samples into a new tree.
func Build(t Type, samples []Sample) *Node {
	b := NewBuilder(t)
	for _, s := range samples {
		b.Add(s)
	}
	return b.Root()
}

// HexFrames renders addresses the way unresolved symbols are shown.
func HexFrames(addrs []uint64) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = hexAddr(a)
	}
	return out
}

func hexAddr(a uint64) string {
	return fmt.Sprintf("0x%x", a)
}
