package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodesAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, code := range []string{ErrConfig, ErrTransport, ErrQuery, ErrScheduler, ErrProfile, ErrExport} {
		require.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}

func TestError_Rendering(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		lines []string
	}{
		{
			name:  "message only",
			err:   New(ErrQuery, "Table system.backups does not exist", ""),
			lines: []string{"✗ Table system.backups does not exist"},
		},
		{
			name: "with suggestion",
			err:  New(ErrScheduler, "Refresh is disabled while paused", "Press p to resume"),
			lines: []string{
				"✗ Refresh is disabled while paused",
				"",
				"  Press p to resume",
			},
		},
		{
			name: "cause before suggestion",
			err: WrapWithCode(errors.New("dial tcp 10.0.0.1:9000: connect: connection refused"),
				ErrTransport, "No host answered", "Run 'chdig hosts' to see which hosts are down"),
			lines: []string{
				"✗ No host answered",
				"",
				"  dial tcp 10.0.0.1:9000: connect: connection refused",
				"",
				"  Run 'chdig hosts' to see which hosts are down",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Split(strings.TrimRight(tt.err.Error(), "\n"), "\n")
			assert.Equal(t, tt.lines, got)
		})
	}
}

func TestWrap_DefaultsToTransport(t *testing.T) {
	cause := errors.New("read: connection reset by peer")
	err := Wrap(cause, "Lost connection to a:9000")

	assert.Equal(t, ErrTransport, err.Code)
	assert.Empty(t, err.Suggestion)
	assert.Same(t, cause, err.Unwrap())
}

func TestError_Chain(t *testing.T) {
	cause := errors.New("no samples")
	inner := WrapWithCode(cause, ErrProfile, "Flamegraph is empty", "Widen the window with --span")
	outer := fmt.Errorf("flamegraph cpu: %w", inner)

	assert.True(t, errors.Is(outer, cause))

	var chErr *Error
	require.True(t, errors.As(outer, &chErr))
	assert.Equal(t, ErrProfile, chErr.Code)

	assert.True(t, IsCode(outer, ErrProfile))
	assert.False(t, IsCode(outer, ErrExport))
	assert.False(t, IsCode(cause, ErrProfile))
	assert.False(t, IsCode(nil, ErrProfile))
}

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("dial tcp:\n  refused"), "dial tcp: refused"},
		{"structured", New(ErrScheduler, "Refresh is disabled while paused", "Press p to resume"), "Refresh is disabled while paused"},
		{"with cause", WrapWithCode(errors.New("timeout"), ErrProfile, "No samples", "Check trace_log"), "No samples: timeout"},
		{
			name: "nested causes",
			err:  WrapWithCode(Wrap(errors.New("i/o timeout"), "b:9000 unreachable"), ErrQuery, "Merge failed", ""),
			want: "Merge failed: b:9000 unreachable: i/o timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Short(tt.err))
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOk   bool
	}{
		{"exit error", NewExitError(1), 1, true},
		{"zero", NewExitError(0), 0, true},
		{"wrapped", fmt.Errorf("hosts: %w", NewExitError(2)), 2, true},
		{"plain error", errors.New("boom"), 0, false},
		{"structured error", New(ErrQuery, "boom", ""), 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := GetExitCode(tt.err)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "exit code 137", NewExitError(137).Error())
}
