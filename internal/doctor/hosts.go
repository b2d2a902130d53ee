package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// DefaultTimeout bounds each query a check issues when none is set.
const DefaultTimeout = 5 * time.Second

// HostCheck verifies a host answers and reports its server version.
type HostCheck struct {
	Host    *cluster.Host
	Conn    transport.Conn
	Timeout time.Duration

	// Populated by Run.
	Version string
	Quirks  transport.Quirks
	Latency time.Duration
}

func (c *HostCheck) Name() string     { return "host_" + c.Host.ID }
func (c *HostCheck) Category() string { return CategoryHosts }

func (c *HostCheck) Run(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(c.Timeout))
	defer cancel()

	start := time.Now()
	v, err := transport.FetchVersion(ctx, c.Conn, c.Host.Address)
	c.Latency = time.Since(start)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: %s", c.Host, kindOf(c.Host.ID, err)),
			Suggestion: hostSuggestion(c.Host, err),
		}
	}
	c.Version = v

	q, err := transport.ParseQuirks(v)
	c.Quirks = q
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s: unrecognized version %q", c.Host, v),
			Suggestion: "Version-specific query adjustments are off for this host",
		}
	}

	msg := fmt.Sprintf("%s: ClickHouse %s (%s)", c.Host, v, c.Latency.Round(time.Millisecond))
	if active := q.Active(); len(active) > 0 {
		names := make([]string, len(active))
		for i, quirk := range active {
			names[i] = quirk.String()
		}
		msg += ", adjusting for " + strings.Join(names, ", ")
	}
	return CheckResult{Name: c.Name(), Status: StatusPass, Message: msg}
}

func kindOf(hostID string, err error) string {
	he := transport.Classify(hostID, err)
	return he.Kind.String()
}

func hostSuggestion(h *cluster.Host, err error) string {
	he := transport.Classify(h.ID, err)
	switch he.Kind {
	case transport.KindTimeout:
		return "The host is slow or blocked by a firewall; raise host_timeout if it is just slow"
	case transport.KindUnreachable:
		return fmt.Sprintf("Nothing answers on %s; check the address and that the native port is open", h.Address)
	default:
		return fmt.Sprintf("The server rejected the probe: %v", he.Err)
	}
}

// NewHostChecks creates one reachability check per host.
func NewHostChecks(conn transport.Conn, hosts []*cluster.Host, timeout time.Duration) []Check {
	checks := make([]Check, 0, len(hosts))
	for _, h := range hosts {
		checks = append(checks, &HostCheck{Host: h, Conn: conn, Timeout: timeout})
	}
	return checks
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
