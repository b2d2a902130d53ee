package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/transport"
	fake "github.com/rileyhilliard/chdig/internal/transport/testing"
	"github.com/stretchr/testify/require"
)

// withFakeConn makes every session in the test use conn.
func withFakeConn(t *testing.T, conn *fake.FakeConn) {
	t.Helper()
	orig := newConn
	newConn = func(transport.Options, logger.Logger) transport.Conn { return conn }
	t.Cleanup(func() { newConn = orig })
}

// writeConfig writes body to a temp .chdig.yaml, points --config at it and
// returns its path. The log goes to the temp dir as well.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)
	body += "\nlog:\n  file: " + filepath.Join(dir, "chdig.log") + "\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
	return path
}

const twoHostConfig = `
url: clickhouse://default@a:9000
host_timeout: 1s
hosts:
  - id: a
    address: a:9000
  - id: b
    address: b:9000
    role: replica
    replica: 2
`

// openTestSession opens a session over conn from a config body.
func openTestSession(t *testing.T, conn *fake.FakeConn, body string, opts sessionOptions) *session {
	t.Helper()
	withFakeConn(t, conn)
	writeConfig(t, body)
	s, err := openSession(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func versionRows(v string) fake.Response {
	return fake.Response{Result: fake.Rows([]string{"version()"}, []any{v})}
}
