package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/profile"
	fake "github.com/rileyhilliard/chdig/internal/transport/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var traceCols = []string{"thread_id", "trace", "weight"}

// stackConn answers trace_log and symbol queries for hosts a and b.
func stackConn() *fake.FakeConn {
	conn := fake.NewFakeConn()
	conn.Respond("a:9000", "FROM system.trace_log", fake.Response{Result: fake.Rows(traceCols,
		[]any{uint64(1), []uint64{1, 2}, uint64(3)},
		[]any{uint64(2), []uint64{1}, uint64(2)},
	)})
	conn.Respond("b:9000", "FROM system.trace_log", fake.Response{Result: fake.Rows(traceCols,
		[]any{uint64(3), []uint64{1}, uint64(5)},
	)})
	for _, a := range []string{"a:9000", "b:9000"} {
		conn.Respond(a, "addressToSymbol", fake.Response{Result: fake.Rows([]string{"addr", "symbol"},
			[]any{uint64(1), "main"},
			[]any{uint64(2), "DB::executeQuery"},
		)})
	}
	return conn
}

func TestRunFlamegraph_Stdout(t *testing.T) {
	s := openTestSession(t, stackConn(), twoHostConfig, sessionOptions{})

	var stdout, stderr bytes.Buffer
	err := runFlamegraph(context.Background(), s, flamegraphOptions{
		Type:    "cpu",
		Span:    "10m",
		Timeout: "5s",
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "main;DB::executeQuery 3\n")
	assert.Contains(t, out, "main 7\n")
	assert.NotContains(t, stderr.String(), "partial")
}

func TestRunFlamegraph_OutputFile(t *testing.T) {
	s := openTestSession(t, stackConn(), twoHostConfig, sessionOptions{})
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	err := runFlamegraph(context.Background(), s, flamegraphOptions{
		Type:    "cpu",
		Format:  "json",
		Output:  dir,
		Timeout: "5s",
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	require.NoError(t, err)

	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "3 stacks from 2 hosts written to")

	data, err := os.ReadFile(filepath.Join(dir, "chdig-cpu.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "DB::executeQuery")
}

func TestRunFlamegraph_Partial(t *testing.T) {
	conn := stackConn()
	conn.Fail("b:9000", assert.AnError)
	s := openTestSession(t, conn, twoHostConfig, sessionOptions{})

	var stdout, stderr bytes.Buffer
	err := runFlamegraph(context.Background(), s, flamegraphOptions{
		Type: "cpu", Timeout: "5s", Stdout: &stdout, Stderr: &stderr,
	})
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "partial: b failed")
	assert.Contains(t, stdout.String(), "main 2\n")
}

func TestRunFlamegraph_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     flamegraphOptions
		code     string
		contains string
	}{
		{
			name:     "no samples",
			opts:     flamegraphOptions{Type: "memory", Timeout: "5s"},
			code:     errors.ErrProfile,
			contains: "No memory samples",
		},
		{
			name:     "unknown format",
			opts:     flamegraphOptions{Type: "cpu", Format: "svg", Timeout: "5s"},
			code:     errors.ErrExport,
			contains: "Unknown flamegraph format",
		},
		{
			name:     "bad timeout",
			opts:     flamegraphOptions{Type: "cpu", Timeout: "soon"},
			code:     errors.ErrConfig,
			contains: "--timeout",
		},
		{
			name:     "unknown type",
			opts:     flamegraphOptions{Type: "gpu", Timeout: "5s"},
			code:     errors.ErrConfig,
			contains: "Unknown profile type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := fake.NewFakeConn()
			s := openTestSession(t, conn, twoHostConfig, sessionOptions{})

			var stdout, stderr bytes.Buffer
			tt.opts.Stdout, tt.opts.Stderr = &stdout, &stderr
			err := runFlamegraph(context.Background(), s, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Empty(t, stdout.String())
		})
	}
}

func TestResolveProfileType(t *testing.T) {
	typ, err := resolveProfileType("", false)
	require.NoError(t, err)
	assert.Equal(t, profile.CPU, typ, "non-interactive default")

	for _, want := range profile.Types() {
		got, err := resolveProfileType(want.String(), false)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = resolveProfileType("bogus", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), typeList())
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		opts      flamegraphOptions
		wantStart time.Time
		wantEnd   time.Time
		wantErr   string
	}{
		{
			name:      "default span",
			wantStart: now.Add(-time.Hour),
			wantEnd:   now,
		},
		{
			name:      "explicit span",
			opts:      flamegraphOptions{Span: "15m"},
			wantStart: now.Add(-15 * time.Minute),
			wantEnd:   now,
		},
		{
			name:      "from only",
			opts:      flamegraphOptions{From: "2024-05-01 12:30"},
			wantStart: time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local),
			wantEnd:   now,
		},
		{
			name:      "from and to",
			opts:      flamegraphOptions{From: "2024-05-01 12:00", To: "2024-05-01 12:10:30"},
			wantStart: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local),
			wantEnd:   time.Date(2024, 5, 1, 12, 10, 30, 0, time.Local),
		},
		{name: "to without from", opts: flamegraphOptions{To: "2024-05-01"}, wantErr: "--to needs --from"},
		{name: "negative span", opts: flamegraphOptions{Span: "-5m"}, wantErr: "must be positive"},
		{name: "reversed", opts: flamegraphOptions{From: "2024-05-01 12:00", To: "2024-05-01 11:00"}, wantErr: "ends before it starts"},
		{name: "bad time", opts: flamegraphOptions{From: "yesterday"}, wantErr: "doesn't look like a valid --from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := resolveWindow(tt.opts, time.Hour, now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(w.Start), "start %v", w.Start)
			assert.True(t, tt.wantEnd.Equal(w.End), "end %v", w.End)
		})
	}
}

func TestParseTimeFlag(t *testing.T) {
	for _, value := range []string{
		"2024-05-01T12:00:00Z",
		"2024-05-01 12:00:00",
		"2024-05-01 12:00",
		"2024-05-01",
	} {
		t.Run(value, func(t *testing.T) {
			got, err := parseTimeFlag("--from", value)
			require.NoError(t, err)
			assert.Equal(t, 2024, got.Year())
		})
	}
}

func TestTypeList(t *testing.T) {
	list := typeList()
	assert.Equal(t, len(profile.Types())-1, strings.Count(list, ", "))
	assert.Contains(t, list, "cpu")
}
