package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DialFunc opens a driver connection to one address.
type DialFunc func(ctx context.Context, address string) (driver.Conn, error)

// Pool keeps one driver connection per host address for reuse between
// refresh cycles, so each tick does not pay the handshake again.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	dial        DialFunc
	dialing     map[string]*dialCall
}

// poolEntry holds a connection and its metadata.
type poolEntry struct {
	conn     driver.Conn
	lastUsed time.Time
}

// dialCall lets concurrent Get calls for the same address share one dial.
type dialCall struct {
	done chan struct{}
	conn driver.Conn
	err  error
}

// NewPool creates a connection pool using dial to open new connections.
func NewPool(dial DialFunc) *Pool {
	return &Pool{
		connections: make(map[string]*poolEntry),
		dialing:     make(map[string]*dialCall),
		dial:        dial,
	}
}

// Get returns the pooled connection for address, dialing one if needed.
func (p *Pool) Get(ctx context.Context, address string) (driver.Conn, error) {
	p.mu.Lock()
	if entry, ok := p.connections[address]; ok {
		entry.lastUsed = time.Now()
		p.mu.Unlock()
		return entry.conn, nil
	}
	if call, ok := p.dialing[address]; ok {
		p.mu.Unlock()
		select {
		case <-call.done:
			return call.conn, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &dialCall{done: make(chan struct{})}
	p.dialing[address] = call
	p.mu.Unlock()

	call.conn, call.err = p.dial(ctx, address)

	p.mu.Lock()
	delete(p.dialing, address)
	if call.err == nil {
		p.connections[address] = &poolEntry{conn: call.conn, lastUsed: time.Now()}
	}
	p.mu.Unlock()
	close(call.done)

	return call.conn, call.err
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for address, entry := range p.connections {
		if entry.conn != nil {
			_ = entry.conn.Close()
		}
		delete(p.connections, address)
	}
}

// CloseOne closes and removes the connection for address, so the next Get
// dials a fresh one. Called after connection-class failures.
func (p *Pool) CloseOne(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[address]; ok {
		if entry.conn != nil {
			_ = entry.conn.Close()
		}
		delete(p.connections, address)
	}
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// LastUsed returns when the connection for address was last handed out.
func (p *Pool) LastUsed(address string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.connections[address]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastUsed, true
}
