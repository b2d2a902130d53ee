package profile

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSymbolBatch caps addresses resolved per query.
	DefaultSymbolBatch = 5000
	// DefaultSymbolParallel caps hosts symbolized at once.
	DefaultSymbolParallel = 4

	maxCachedSymbols = 1 << 20
)

type symKey struct {
	host string
	addr uint64
}

// Symbolizer resolves raw addresses to demangled symbols on the host that
// recorded them. Addresses are only meaningful on their own host, so the
// cache is keyed by host and address. Failures are never fatal: addresses
// that cannot be resolved keep their hex form.
type Symbolizer struct {
	conn transport.Conn
	topo *cluster.Topology
	log  logger.Logger

	batch    int
	parallel int

	mu    sync.Mutex
	cache map[symKey]string
}

// NewSymbolizer creates a symbolizer over conn. Host addresses are looked up
// in topo.
func NewSymbolizer(conn transport.Conn, topo *cluster.Topology, log logger.Logger) *Symbolizer {
	if log == nil {
		log = logger.Noop()
	}
	return &Symbolizer{
		conn:     conn,
		topo:     topo,
		log:      log,
		batch:    DefaultSymbolBatch,
		parallel: DefaultSymbolParallel,
		cache:    make(map[symKey]string),
	}
}

// SetBatch changes the per-query address limit.
func (s *Symbolizer) SetBatch(n int) {
	if n > 0 {
		s.batch = n
	}
}

// Reset drops every cached symbol.
func (s *Symbolizer) Reset() {
	s.mu.Lock()
	s.cache = make(map[symKey]string)
	s.mu.Unlock()
}

// Cached returns the number of resolved addresses held.
func (s *Symbolizer) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// Symbolize fills Frames for every sample that only has addresses and
// returns how many frames stayed unresolved.
func (s *Symbolizer) Symbolize(ctx context.Context, samples []Sample) int {
	wanted := s.unknown(samples)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for hostID, addrs := range wanted {
		g.Go(func() error {
			s.resolveHost(gctx, hostID, addrs)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	misses := 0
	for i := range samples {
		smp := &samples[i]
		if len(smp.Frames) > 0 || len(smp.Addrs) == 0 {
			continue
		}
		frames := make([]string, len(smp.Addrs))
		for j, a := range smp.Addrs {
			sym, ok := s.cache[symKey{smp.HostID, a}]
			if !ok {
				sym = hexAddr(a)
				misses++
			}
			frames[j] = sym
		}
		smp.Frames = frames
	}
	return misses
}

// unknown collects uncached addresses per host.
func (s *Symbolizer) unknown(samples []Sample) map[string][]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cache) > maxCachedSymbols {
		s.cache = make(map[symKey]string)
	}

	seen := make(map[symKey]bool)
	out := make(map[string][]uint64)
	for _, smp := range samples {
		if len(smp.Frames) > 0 {
			continue
		}
		for _, a := range smp.Addrs {
			k := symKey{smp.HostID, a}
			if seen[k] {
				continue
			}
			seen[k] = true
			if _, ok := s.cache[k]; !ok {
				out[smp.HostID] = append(out[smp.HostID], a)
			}
		}
	}
	return out
}

func (s *Symbolizer) resolveHost(ctx context.Context, hostID string, addrs []uint64) {
	h, ok := s.topo.Host(hostID)
	if !ok {
		s.log.Debug("symbolize: host %s left the topology", hostID)
		return
	}
	ctx = transport.WithSettings(ctx, symbolizeSettings)

	for start := 0; start < len(addrs); start += s.batch {
		end := min(start+s.batch, len(addrs))
		resolved, err := s.resolveBatch(ctx, h, addrs[start:end])
		if err != nil {
			s.log.Warn("symbolize on %s failed, keeping raw addresses: %v", h, err)
			return
		}
		s.mu.Lock()
		for a, sym := range resolved {
			s.cache[symKey{hostID, a}] = sym
		}
		s.mu.Unlock()
	}
}

func (s *Symbolizer) resolveBatch(ctx context.Context, h *cluster.Host, addrs []uint64) (map[uint64]string, error) {
	res, err := s.conn.Execute(ctx, h.Address, symbolizeQuery, transport.Params{"addrs": addrs})
	if err != nil {
		return nil, err
	}
	ai, si := res.ColumnIndex("addr"), res.ColumnIndex("symbol")
	if ai < 0 || si < 0 {
		return nil, fmt.Errorf("symbolize result missing addr or symbol column")
	}

	out := make(map[uint64]string, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) <= ai || len(row) <= si {
			continue
		}
		a, ok := toAddr(row[ai])
		if !ok {
			continue
		}
		// Empty symbols are unresolvable addresses; leave them uncached so
		// they count as misses.
		if sym := query.FormatValue(row[si]); sym != "" {
			out[a] = sym
		}
	}
	return out, nil
}

// toAddr converts an address cell without a float round trip.
func toAddr(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case int64:
		return uint64(x), x >= 0
	case int:
		return uint64(x), x >= 0
	case string:
		n, err := strconv.ParseUint(x, 0, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
