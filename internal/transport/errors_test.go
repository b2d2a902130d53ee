package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantCode int32
	}{
		{
			name:     "server exception",
			err:      &clickhouse.Exception{Code: 60, Name: "DB::Exception", Message: "Table system.nope does not exist"},
			wantKind: KindQuery,
			wantCode: 60,
		},
		{
			name:     "wrapped server exception",
			err:      fmt.Errorf("query: %w", &clickhouse.Exception{Code: 241, Message: "Memory limit exceeded"}),
			wantKind: KindQuery,
			wantCode: 241,
		},
		{name: "deadline", err: context.DeadlineExceeded, wantKind: KindTimeout},
		{name: "canceled", err: context.Canceled, wantKind: KindTimeout},
		{name: "acquire timeout", err: clickhouse.ErrAcquireConnTimeout, wantKind: KindTimeout},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: timeoutErr{}}, wantKind: KindTimeout},
		{name: "connection refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, wantKind: KindUnreachable},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "ch-9"}, wantKind: KindUnreachable},
		{name: "eof", err: fmt.Errorf("read: %w", io.EOF), wantKind: KindUnreachable},
		{name: "reset", err: syscall.ECONNRESET, wantKind: KindUnreachable},
		{name: "other", err: errors.New("converting UInt8 to *string is unsupported"), wantKind: KindQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := Classify("ch-1:9000", tt.err)
			require.NotNil(t, he)
			assert.Equal(t, tt.wantKind, he.Kind)
			assert.Equal(t, tt.wantCode, he.Code)
			assert.Equal(t, "ch-1:9000", he.Host)
			assert.ErrorIs(t, he, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify("h", nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := &HostError{Kind: KindTimeout, Host: "a", Err: errors.New("x")}
	assert.Same(t, orig, Classify("b", fmt.Errorf("wrap: %w", orig)))
}

func TestHostError_Error(t *testing.T) {
	he := &HostError{Kind: KindQuery, Host: "ch-1", Code: 60, Err: errors.New("no table")}
	assert.Equal(t, "ch-1: query error (code 60): no table", he.Error())

	he = &HostError{Kind: KindUnreachable, Host: "ch-2", Err: errors.New("refused")}
	assert.Equal(t, "ch-2: unreachable: refused", he.Error())
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "unreachable", KindUnreachable.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "query error", KindQuery.String())
	assert.Equal(t, "unknown", ErrorKind(42).String())
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(&HostError{Kind: KindUnreachable}))
	assert.False(t, IsConnectionError(&HostError{Kind: KindTimeout}))
	assert.True(t, IsConnectionError(io.EOF))
	assert.False(t, IsConnectionError(errors.New("bad")))
}
