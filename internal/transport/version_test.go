package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuirks(t *testing.T) {
	tests := []struct {
		version          string
		processedElapsed bool
		pipeTimeout      bool
	}{
		{"22.12.3.5", false, false},
		{"22.13.1.1", true, false},
		{"23.1.3.5", true, false},
		{"23.2.1.2537", false, false},
		{"23.4.2.11", false, false},
		{"23.5.1.3174", false, true},
		{"24.3.1.2672-lts", false, true},
		{"25.1.1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			q, err := ParseQuirks(tt.version)
			require.NoError(t, err)
			assert.True(t, q.Known())
			assert.Equal(t, tt.version, q.Version())
			assert.Equal(t, tt.processedElapsed, q.Has(QuirkProcessedElapsed))
			assert.Equal(t, tt.pipeTimeout, q.Has(QuirkStackTracePipeTimeout))
		})
	}
}

func TestParseQuirks_Invalid(t *testing.T) {
	q, err := ParseQuirks("garbage")
	assert.Error(t, err)
	assert.False(t, q.Known())
	assert.Empty(t, q.Active())
	assert.False(t, q.Has(QuirkStackTracePipeTimeout))
}

func TestQuirks_Active(t *testing.T) {
	q, err := ParseQuirks("23.8.1.1")
	require.NoError(t, err)
	assert.Equal(t, []Quirk{QuirkStackTracePipeTimeout}, q.Active())
	assert.Equal(t, "stack-trace-pipe-timeout", q.Active()[0].String())
}

// stubConn answers every query with a fixed result.
type stubConn struct {
	res *Result
	err error
}

func (s stubConn) Execute(context.Context, string, string, Params) (*Result, error) {
	return s.res, s.err
}
func (s stubConn) Close() error { return nil }

func TestFetchVersion(t *testing.T) {
	v, err := FetchVersion(context.Background(),
		stubConn{res: &Result{Columns: []string{"version()"}, Rows: [][]any{{"23.8.2.7"}}}}, "h")
	require.NoError(t, err)
	assert.Equal(t, "23.8.2.7", v)

	_, err = FetchVersion(context.Background(), stubConn{res: &Result{}}, "h")
	assert.Error(t, err)

	_, err = FetchVersion(context.Background(),
		stubConn{res: &Result{Rows: [][]any{{uint64(1)}}}}, "h")
	assert.Error(t, err)
}
