package transport

import (
	"context"
	"fmt"
	"strings"

	version "github.com/hashicorp/go-version"
)

// Quirk is a server-version-dependent behavior the queries must adapt to.
type Quirk int

const (
	// QuirkProcessedElapsed: system.processes.elapsed is unreliable
	// (ClickHouse PR 46047), so elapsed is computed from the start time.
	QuirkProcessedElapsed Quirk = iota
	// QuirkStackTracePipeTimeout: system.stack_trace accepts
	// storage_system_stack_trace_pipe_read_timeout_ms.
	QuirkStackTracePipeTimeout
)

// String returns a human-readable representation of the quirk.
func (q Quirk) String() string {
	switch q {
	case QuirkProcessedElapsed:
		return "processed-elapsed"
	case QuirkStackTracePipeTimeout:
		return "stack-trace-pipe-timeout"
	default:
		return "unknown"
	}
}

var quirkConstraints = []struct {
	quirk      Quirk
	constraint version.Constraints
}{
	// 22.13 is kept because such builds exist in the wild and behave like 23.1.
	{QuirkProcessedElapsed, version.MustConstraints(version.NewConstraint(">= 22.13, < 23.2"))},
	{QuirkStackTracePipeTimeout, version.MustConstraints(version.NewConstraint(">= 23.5"))},
}

// Quirks is the set of quirks active for one server version.
type Quirks struct {
	raw     string
	version *version.Version
	mask    uint64
}

// ParseQuirks resolves quirks for a server version string such as
// "23.8.2.7" or "24.3.1.2672-lts". Only major.minor.patch is compared.
func ParseQuirks(raw string) (Quirks, error) {
	v, err := parseServerVersion(raw)
	if err != nil {
		return Quirks{raw: raw}, err
	}

	q := Quirks{raw: raw, version: v}
	for _, c := range quirkConstraints {
		if c.constraint.Check(v) {
			q.mask |= 1 << uint(c.quirk)
		}
	}
	return q, nil
}

// Has reports whether quirk applies.
func (q Quirks) Has(quirk Quirk) bool {
	return q.mask&(1<<uint(quirk)) != 0
}

// Version returns the full server version string as reported by the server.
func (q Quirks) Version() string {
	return q.raw
}

// Known reports whether a version was parsed. Unknown versions activate no quirks.
func (q Quirks) Known() bool {
	return q.version != nil
}

// Active lists the active quirks, for logging.
func (q Quirks) Active() []Quirk {
	var out []Quirk
	for _, c := range quirkConstraints {
		if q.Has(c.quirk) {
			out = append(out, c.quirk)
		}
	}
	return out
}

func parseServerVersion(raw string) (*version.Version, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "-+ "); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("unrecognized server version %q", raw)
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return version.NewVersion(strings.Join(parts, "."))
}

// FetchVersion asks the host at address for its server version.
func FetchVersion(ctx context.Context, conn Conn, address string) (string, error) {
	res, err := conn.Execute(ctx, address, "SELECT version()", nil)
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return "", fmt.Errorf("%s: empty version() result", address)
	}
	v, ok := res.Rows[0][0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected version() type %T", address, res.Rows[0][0])
	}
	return v, nil
}
