package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
)

const (
	traceLogQuery = `SELECT count() AS n FROM system.tables WHERE database = 'system' AND name = 'trace_log'`

	// Resolving address 0 fails harmlessly when introspection is allowed.
	introspectionQuery = `SELECT addressToSymbol(toUInt64(0)) AS s`

	clusterQuery = `SELECT count() AS n FROM system.clusters WHERE cluster = @cluster`
)

// TraceLogCheck verifies system.trace_log exists on a host. Without it
// historical flamegraphs come back empty.
type TraceLogCheck struct {
	Host    *cluster.Host
	Conn    transport.Conn
	Timeout time.Duration
}

func (c *TraceLogCheck) Name() string     { return "trace_log_" + c.Host.ID }
func (c *TraceLogCheck) Category() string { return CategoryFeatures }

func (c *TraceLogCheck) Run(ctx context.Context) CheckResult {
	n, err := countQuery(ctx, c.Conn, c.Host.Address, traceLogQuery, nil, c.Timeout)
	if err != nil {
		return skipped(c.Name(), c.Host, err)
	}
	if n == 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s: system.trace_log is missing", c.Host),
			Suggestion: "Enable <trace_log> in the server config; only the live flamegraph works without it",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: system.trace_log present", c.Host),
	}
}

// IntrospectionCheck verifies the user may call addressToSymbol. Without
// it flamegraph frames stay raw addresses.
type IntrospectionCheck struct {
	Host    *cluster.Host
	Conn    transport.Conn
	Timeout time.Duration
}

func (c *IntrospectionCheck) Name() string     { return "introspection_" + c.Host.ID }
func (c *IntrospectionCheck) Category() string { return CategoryFeatures }

func (c *IntrospectionCheck) Run(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(c.Timeout))
	defer cancel()
	ctx = transport.WithSettings(ctx, map[string]any{"allow_introspection_functions": 1})

	if _, err := c.Conn.Execute(ctx, c.Host.Address, introspectionQuery, nil); err != nil {
		he := transport.Classify(c.Host.ID, err)
		if he.Kind != transport.KindQuery {
			return skipped(c.Name(), c.Host, err)
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s: introspection functions unavailable", c.Host),
			Suggestion: "Flamegraph frames will show raw addresses; the user needs the INTROSPECTION grant and may not be readonly",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: stack symbolization available", c.Host),
	}
}

// ClusterCheck verifies the configured cluster is known to the seed host.
type ClusterCheck struct {
	Cluster string
	Seed    string
	Conn    transport.Conn
	Timeout time.Duration
}

func (c *ClusterCheck) Name() string     { return "cluster" }
func (c *ClusterCheck) Category() string { return CategoryFeatures }

func (c *ClusterCheck) Run(ctx context.Context) CheckResult {
	n, err := countQuery(ctx, c.Conn, c.Seed, clusterQuery, transport.Params{"cluster": c.Cluster}, c.Timeout)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cannot read system.clusters on %s: %s", c.Seed, kindOf(c.Seed, err)),
			Suggestion: "Check the url points at a reachable host",
		}
	}
	if n == 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cluster '%s' is not defined on %s", c.Cluster, c.Seed),
			Suggestion: "Run SELECT DISTINCT cluster FROM system.clusters to list the names",
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Cluster '%s' lists %d hosts", c.Cluster, n),
	}
}

// NewFeatureChecks creates trace_log and introspection checks per host.
func NewFeatureChecks(conn transport.Conn, hosts []*cluster.Host, timeout time.Duration) []Check {
	checks := make([]Check, 0, 2*len(hosts))
	for _, h := range hosts {
		checks = append(checks,
			&TraceLogCheck{Host: h, Conn: conn, Timeout: timeout},
			&IntrospectionCheck{Host: h, Conn: conn, Timeout: timeout},
		)
	}
	return checks
}

func countQuery(ctx context.Context, conn transport.Conn, address, text string, params transport.Params, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(timeout))
	defer cancel()

	res, err := conn.Execute(ctx, address, text, params)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, nil
	}
	f, ok := query.ToFloat(res.Rows[0][0])
	if !ok {
		return 0, fmt.Errorf("%s: count() returned %T", address, res.Rows[0][0])
	}
	return int(f), nil
}

// skipped reports a feature check that could not run because the host
// did not answer. The host check already failed for it.
func skipped(name string, h *cluster.Host, err error) CheckResult {
	return CheckResult{
		Name:    name,
		Status:  StatusWarn,
		Message: fmt.Sprintf("%s: not checked (%s)", h, kindOf(h.ID, err)),
	}
}
