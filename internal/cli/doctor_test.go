package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/rileyhilliard/chdig/internal/errors"
	fake "github.com/rileyhilliard/chdig/internal/transport/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healthyConn answers every doctor probe for hosts a and b.
func healthyConn() *fake.FakeConn {
	conn := fake.NewFakeConn()
	for _, a := range []string{"a:9000", "b:9000"} {
		conn.Respond(a, "version()", versionRows("22.8.1.1"))
		conn.Respond(a, "system.tables", fake.Response{Result: fake.Rows([]string{"n"}, []any{uint64(1)})})
		conn.Respond(a, "addressToSymbol", fake.Response{Result: fake.Rows([]string{"s"}, []any{""})})
	}
	return conn
}

func TestDoctorCommand_AllClear(t *testing.T) {
	withFakeConn(t, healthyConn())
	writeConfig(t, twoHostConfig)

	var out bytes.Buffer
	require.NoError(t, doctorCommand(context.Background(), doctorOptions{Out: &out}))

	text := out.String()
	for _, want := range []string{"CONFIG", "HOSTS", "FEATURES", "ClickHouse 22.8.1.1", "Everything looks good"} {
		assert.Contains(t, text, want)
	}
}

func TestDoctorCommand_HostDown(t *testing.T) {
	conn := healthyConn()
	conn.Fail("b:9000", syscall.ECONNREFUSED)
	withFakeConn(t, conn)
	writeConfig(t, twoHostConfig)

	var out bytes.Buffer
	err := doctorCommand(context.Background(), doctorOptions{JSON: true, Out: &out})
	code, ok := errors.GetExitCode(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, 1, code)

	var report DoctorOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.False(t, report.Summary.AllClear)
	assert.Equal(t, 1, report.Summary.Fail, "only the host check fails")
	assert.Equal(t, 2, report.Summary.Warn, "feature checks on b are skipped")

	var names []string
	for _, c := range report.Categories {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"CONFIG", "HOSTS", "FEATURES"}, names)
}

func TestDoctorCommand_BadConfig(t *testing.T) {
	withFakeConn(t, healthyConn())
	writeConfig(t, "url: clickhouse://default@a:9000\ninterval: 10ms\n")

	var out bytes.Buffer
	err := doctorCommand(context.Background(), doctorOptions{Out: &out})
	_, ok := errors.GetExitCode(err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "CONFIG")
	assert.NotContains(t, out.String(), "HOSTS")
}

func TestDoctorCommand_MissingConfigFile(t *testing.T) {
	orig := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "nope.yaml")
	t.Cleanup(func() { cfgFile = orig })

	var out bytes.Buffer
	err := doctorCommand(context.Background(), doctorOptions{JSON: true, Out: &out})
	require.Error(t, err)

	var report DoctorOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 2, report.Summary.Fail)
}
