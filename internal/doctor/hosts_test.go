package doctor

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/transport"
	fake "github.com/rileyhilliard/chdig/internal/transport/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHosts(t *testing.T, ids ...string) []*cluster.Host {
	t.Helper()
	specs := make([]cluster.HostSpec, len(ids))
	for i, id := range ids {
		specs[i] = cluster.HostSpec{ID: id, Address: id + ":9000"}
	}
	topo, err := cluster.NewTopology(specs)
	require.NoError(t, err)
	return topo.Active()
}

func versionResponse(v string) fake.Response {
	return fake.Response{Result: fake.Rows([]string{"version()"}, []any{v})}
}

func TestHostCheck(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(conn *fake.FakeConn)
		status   CheckStatus
		contains string
		suggests string
	}{
		{
			name:     "answers",
			setup:    func(conn *fake.FakeConn) { conn.Respond("a:9000", "version()", versionResponse("22.8.1.1")) },
			status:   StatusPass,
			contains: "ClickHouse 22.8.1.1",
		},
		{
			name:     "answers with quirks",
			setup:    func(conn *fake.FakeConn) { conn.Respond("a:9000", "version()", versionResponse("23.1.2.3")) },
			status:   StatusPass,
			contains: "adjusting for processed-elapsed",
		},
		{
			name:     "odd version",
			setup:    func(conn *fake.FakeConn) { conn.Respond("a:9000", "version()", versionResponse("head")) },
			status:   StatusWarn,
			contains: "unrecognized version",
		},
		{
			name:     "refused",
			setup:    func(conn *fake.FakeConn) { conn.Fail("a:9000", syscall.ECONNREFUSED) },
			status:   StatusFail,
			contains: "unreachable",
			suggests: "native port",
		},
		{
			name:     "slow",
			setup:    func(conn *fake.FakeConn) { conn.SetLatency("a:9000", time.Second) },
			status:   StatusFail,
			contains: "timeout",
			suggests: "host_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := fake.NewFakeConn()
			tt.setup(conn)
			h := testHosts(t, "a")[0]

			c := &HostCheck{Host: h, Conn: conn, Timeout: 50 * time.Millisecond}
			r := c.Run(context.Background())
			assert.Equal(t, tt.status, r.Status, r.Message)
			assert.Contains(t, r.Message, tt.contains)
			assert.Contains(t, r.Suggestion, tt.suggests)
			assert.Equal(t, "host_a", c.Name())
		})
	}
}

func TestHostCheck_RecordsVersion(t *testing.T) {
	conn := fake.NewFakeConn()
	conn.Respond("a:9000", "version()", versionResponse("24.3.1.2672-lts"))
	c := &HostCheck{Host: testHosts(t, "a")[0], Conn: conn}

	c.Run(context.Background())
	assert.Equal(t, "24.3.1.2672-lts", c.Version)
	assert.True(t, c.Quirks.Has(transport.QuirkStackTracePipeTimeout))
}

func TestNewHostChecks(t *testing.T) {
	checks := NewHostChecks(fake.NewFakeConn(), testHosts(t, "a", "b"), time.Second)
	require.Len(t, checks, 2)
	assert.Equal(t, "host_b", checks[1].Name())
	assert.Equal(t, CategoryHosts, checks[1].Category())
}
