// Package profile turns sampled stacks from system.trace_log and
// system.stack_trace into weighted call trees.
package profile

import (
	"fmt"
	"strings"
)

// Type selects the sample source and what a sample's weight means.
type Type int

const (
	CPU Type = iota
	Real
	Memory
	MemorySample
	JemallocSample
	MemoryAllocatedWithoutCheck
	ProfileEvents
	// Live samples the stacks of threads running right now.
	Live
)

var typeNames = []string{
	CPU:                         "cpu",
	Real:                        "real",
	Memory:                      "memory",
	MemorySample:                "memory-sample",
	JemallocSample:              "jemalloc-sample",
	MemoryAllocatedWithoutCheck: "memory-unchecked",
	ProfileEvents:               "profile-events",
	Live:                        "live",
}

// traceTypes are system.trace_log.trace_type values.
var traceTypes = []string{
	CPU:                         "CPU",
	Real:                        "Real",
	Memory:                      "Memory",
	MemorySample:                "MemorySample",
	JemallocSample:              "JemallocSample",
	MemoryAllocatedWithoutCheck: "MemoryAllocatedWithoutCheck",
	ProfileEvents:               "ProfileEvent",
}

// Types lists every profile type in menu order.
func Types() []Type {
	return []Type{CPU, Real, Memory, MemorySample, JemallocSample, MemoryAllocatedWithoutCheck, ProfileEvents, Live}
}

// String returns the CLI name of the type.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType parses a CLI name, case-insensitively.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown profile type %q (expected one of %s)", s, strings.Join(typeNames, ", "))
}

// TraceType returns the system.trace_log trace_type, or "" for Live.
func (t Type) TraceType() string {
	if t < 0 || int(t) >= len(traceTypes) {
		return ""
	}
	return traceTypes[t]
}

// Historical reports whether the type reads system.trace_log over a window.
func (t Type) Historical() bool {
	return t != Live
}

// Unit describes sample weights.
type Unit int

const (
	UnitSamples Unit = iota
	UnitBytes
	UnitEvents
)

// String returns the unit name used in exports.
func (u Unit) String() string {
	switch u {
	case UnitBytes:
		return "bytes"
	case UnitEvents:
		return "events"
	default:
		return "samples"
	}
}

// Unit returns how weights of this type are measured.
func (t Type) Unit() Unit {
	switch t {
	case Memory, MemorySample, JemallocSample, MemoryAllocatedWithoutCheck:
		return UnitBytes
	case ProfileEvents:
		return UnitEvents
	default:
		return UnitSamples
	}
}

// Sample is one recorded stack. Frames are root first. Addrs holds the raw
// addresses until they are symbolized into Frames.
type Sample struct {
	HostID   string
	ThreadID uint64
	Addrs    []uint64
	Frames   []string
	Weight   int64
}
