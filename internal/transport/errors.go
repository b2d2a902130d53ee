package transport

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ErrorKind is the host-level failure taxonomy.
type ErrorKind int

const (
	// KindUnreachable means no connection could be made or it broke mid-query.
	KindUnreachable ErrorKind = iota
	// KindTimeout means the per-host timeout or the cycle deadline expired.
	KindTimeout
	// KindQuery means the server rejected or failed the query.
	KindQuery
)

// String returns a human-readable representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindQuery:
		return "query error"
	default:
		return "unknown"
	}
}

// HostError is a classified failure of one query on one host.
type HostError struct {
	Kind ErrorKind
	Host string
	// Code is the server exception code for KindQuery, 0 otherwise.
	Code int32
	Err  error
}

func (e *HostError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %v", e.Host, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Host, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HostError) Unwrap() error {
	return e.Err
}

// Classify maps a raw driver error to a HostError for host.
// A nil err returns nil. Errors that are already classified are returned as is.
func Classify(host string, err error) *HostError {
	if err == nil {
		return nil
	}

	var he *HostError
	if errors.As(err, &he) {
		return he
	}

	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return &HostError{Kind: KindQuery, Host: host, Code: ex.Code, Err: err}
	}

	// A cancelled context means the caller gave up waiting, which reads the
	// same as a deadline from the host's point of view.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, clickhouse.ErrAcquireConnTimeout) {
		return &HostError{Kind: KindTimeout, Host: host, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &HostError{Kind: KindTimeout, Host: host, Err: err}
	}

	if isConnectionError(err) {
		return &HostError{Kind: KindUnreachable, Host: host, Err: err}
	}

	// Anything else (decode failures, bad bindings) comes from our side of
	// the query, so it is reported as a query error rather than an outage.
	return &HostError{Kind: KindQuery, Host: host, Err: err}
}

// isConnectionError reports whether err means the connection itself failed.
func isConnectionError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	case errors.Is(err, clickhouse.ErrAcquireConnNoAddress):
		return true
	}
	return false
}

// IsConnectionError reports whether a classified error should drop the
// pooled connection for its host.
func IsConnectionError(err error) bool {
	var he *HostError
	if errors.As(err, &he) {
		return he.Kind == KindUnreachable
	}
	return isConnectionError(err)
}
