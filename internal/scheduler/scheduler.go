// Package scheduler drives periodic fan-out cycles for the live dashboard.
//
// One tick loop starts a cycle per job. A job whose previous cycle is still
// running skips the tick instead of queueing it, so a slow cluster never
// builds a backlog. Every change of what the user looks at (pause, seek,
// span, view) starts a new epoch: in-flight cycles of the old epoch are
// cancelled and their results are dropped rather than committed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultSpan     = time.Hour
	DefaultTopN     = 20

	// SeekStep is how far one seek key press moves the window.
	SeekStep = 10 * time.Minute

	defaultUpdateBuffer = 64
	defaultKillTimeout  = 5 * time.Second
)

// DiscoverFunc lists the cluster's hosts for a topology refresh.
type DiscoverFunc func(ctx context.Context) ([]cluster.HostSpec, error)

// Options configures a Scheduler. Zero values get defaults.
type Options struct {
	Interval time.Duration
	// Span is the initial live window width.
	Span time.Duration
	TopN int
	Now  func() time.Time

	// Discover and DiscoverInterval enable periodic topology refresh.
	Discover         DiscoverFunc
	DiscoverInterval time.Duration

	// KillTimeout bounds a kill request.
	KillTimeout  time.Duration
	UpdateBuffer int
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Span <= 0 {
		o.Span = DefaultSpan
	}
	if o.TopN < 0 {
		o.TopN = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = defaultKillTimeout
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = defaultUpdateBuffer
	}
}

// Scheduler owns the dashboard's view state: pause flag, time window,
// render limit and the active jobs. All mutators are safe for concurrent
// use.
type Scheduler struct {
	opts Options
	conn transport.Conn
	topo *cluster.Topology
	log  logger.Logger

	mu       sync.Mutex
	jobs     []Job
	paused   bool
	window   query.Window
	topN     int
	epoch    uint64
	base     context.Context
	epochCtx context.Context
	cancel   context.CancelFunc
	inFlight map[string]bool
	running  bool

	started     atomic.Bool
	discovering atomic.Bool
	trigger     chan struct{}
	updates     chan Update
	wg          sync.WaitGroup
}

// New creates a scheduler. conn is used for kill requests; topo resolves
// host ids for them and receives discovery refreshes.
func New(conn transport.Conn, topo *cluster.Topology, jobs []Job, opts Options, log logger.Logger) *Scheduler {
	opts.applyDefaults()
	if log == nil {
		log = logger.Noop()
	}
	s := &Scheduler{
		opts:     opts,
		conn:     conn,
		topo:     topo,
		log:      log,
		jobs:     append([]Job(nil), jobs...),
		window:   query.LiveWindow(opts.Span),
		topN:     opts.TopN,
		base:     context.Background(),
		inFlight: make(map[string]bool),
		trigger:  make(chan struct{}, 1),
		updates:  make(chan Update, opts.UpdateBuffer),
	}
	s.epochCtx, s.cancel = context.WithCancel(s.base)
	return s
}

// NewForExecutor is New with the executor's topology.
func NewForExecutor(conn transport.Conn, exec *fanout.Executor, jobs []Job, opts Options, log logger.Logger) *Scheduler {
	if opts.Now == nil {
		opts.Now = exec.Now
	}
	return New(conn, exec.Topology(), jobs, opts, log)
}

// Updates delivers committed results. It is closed when Run returns.
func (s *Scheduler) Updates() <-chan Update {
	return s.updates
}

// Run ticks until ctx ends, then waits for in-flight work and closes
// Updates. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrScheduler, "Scheduler is already running", "")
	}

	s.mu.Lock()
	s.base = ctx
	s.running = true
	s.newEpochLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel()
		s.mu.Unlock()
		s.wg.Wait()
		close(s.updates)
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var discover <-chan time.Time
	if s.opts.Discover != nil && s.opts.DiscoverInterval > 0 {
		dt := time.NewTicker(s.opts.DiscoverInterval)
		defer dt.Stop()
		discover = dt.C
	}

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		case <-s.trigger:
			s.tick()
		case <-discover:
			s.refreshTopology(ctx)
		}
	}
}

// tick starts one cycle for every idle job.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}

	c := Cycle{Epoch: s.epoch, Window: s.window, TopN: s.topN, Now: s.opts.Now()}
	for _, job := range s.jobs {
		name := job.Name()
		if s.inFlight[name] {
			ticksSkipped.WithLabelValues(name).Inc()
			s.log.Debug("%s: previous cycle still running, skipping tick", name)
			continue
		}
		s.inFlight[name] = true
		s.wg.Add(1)
		go s.runJob(s.epochCtx, job, c)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job, c Cycle) {
	defer s.wg.Done()
	name := job.Name()

	started := time.Now()
	commit := job.Run(ctx, c)
	elapsed := time.Since(started)
	cycleDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if elapsed > s.opts.Interval {
		s.log.Warn("%s: cycle took %s, longer than the %s interval", name, elapsed.Round(time.Millisecond), s.opts.Interval)
	}

	s.mu.Lock()
	stale := c.Epoch != s.epoch
	var (
		u     Update
		apply = commit != nil && !stale
	)
	if apply {
		u = commit()
	}
	s.mu.Unlock()

	// The job stays in flight until its update is delivered. A stalled
	// consumer makes later ticks skip instead of parking more publishers.
	if apply && !s.publish(ctx, u) {
		stale = true
	}

	s.mu.Lock()
	delete(s.inFlight, name)
	moved := c.Epoch != s.epoch
	paused := s.paused
	s.mu.Unlock()

	if stale {
		cyclesDropped.WithLabelValues(name).Inc()
		s.log.Debug("%s: dropped result of epoch %d", name, c.Epoch)
	}
	// This cycle may have made the new epoch's first tick skip.
	if moved && !paused {
		s.kick()
	}
}

// publish delivers u unless ctx ends first, and reports whether it did.
// Job updates pass their epoch context, so a pause or view switch frees a
// publisher blocked on a full channel.
func (s *Scheduler) publish(ctx context.Context, u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// newEpochLocked cancels in-flight cycles and starts a new epoch.
func (s *Scheduler) newEpochLocked() {
	s.cancel()
	s.epoch++
	s.epochCtx, s.cancel = context.WithCancel(s.base)
}

func (s *Scheduler) resetJobsLocked() {
	for _, job := range s.jobs {
		job.Reset()
	}
}

// Epoch returns the current epoch. Job updates from an older epoch are
// stale.
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// State reports the current mode.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() State {
	switch {
	case s.paused:
		return Paused
	case s.window.Mode == query.Historical:
		return Seeking
	default:
		return Running
	}
}

// Window returns the current time window.
func (s *Scheduler) Window() query.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Info returns the settings as one consistent value.
func (s *Scheduler) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name()
	}
	return Info{State: s.stateLocked(), Window: s.window, TopN: s.topN, Epoch: s.epoch, Jobs: names}
}

// Pause stops scheduling. In-flight cycles are cancelled; the last
// published results stay valid.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.newEpochLocked()
}

// Resume restarts ticking with an immediate cycle.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.mu.Unlock()
	if wasPaused {
		s.kick()
	}
}

// TogglePause pauses a running scheduler and resumes a paused one.
func (s *Scheduler) TogglePause() State {
	if s.State() == Paused {
		s.Resume()
	} else {
		s.Pause()
	}
	return s.State()
}

// RefreshNow runs a cycle right away. It fails while paused.
func (s *Scheduler) RefreshNow() error {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return errors.New(errors.ErrScheduler, "Refresh is disabled while paused", "Press p to resume")
	}
	s.kick()
	return nil
}

// Seek moves the window end by delta. From Live the end starts at now. An
// end at or past now returns to Live. Pause state is kept.
func (s *Scheduler) Seek(delta time.Duration) query.Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	end := now
	if s.window.Mode == query.Historical {
		end = s.window.End
	}
	end = end.Add(delta)

	span := s.window.Span
	if !end.Before(now) {
		s.window = query.LiveWindow(span)
	} else {
		s.window = query.HistoricalWindow(end.Add(-span), end)
	}
	s.windowChangedLocked()
	return s.window
}

// SetLive returns to the live window, keeping the span.
func (s *Scheduler) SetLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window.Mode == query.Live {
		return
	}
	s.window = query.LiveWindow(s.window.Span)
	s.windowChangedLocked()
}

// SetTimeInterval changes the window width without changing mode. A
// historical window keeps its end.
func (s *Scheduler) SetTimeInterval(span time.Duration) error {
	if span <= 0 {
		return errors.New(errors.ErrScheduler,
			fmt.Sprintf("Time interval must be positive, got %s", span), "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window.Mode == query.Historical {
		s.window = query.HistoricalWindow(s.window.End.Add(-span), s.window.End)
	} else {
		s.window = query.LiveWindow(span)
	}
	s.windowChangedLocked()
	return nil
}

// SetRange switches to an explicit historical window.
func (s *Scheduler) SetRange(start, end time.Time) error {
	if !start.Before(end) {
		return errors.New(errors.ErrScheduler,
			fmt.Sprintf("Time range start %s is not before end %s", start.Format(time.DateTime), end.Format(time.DateTime)),
			"Pick an end time after the start time")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = query.HistoricalWindow(start, end)
	s.windowChangedLocked()
	return nil
}

func (s *Scheduler) windowChangedLocked() {
	s.newEpochLocked()
	s.resetJobsLocked()
	if !s.paused {
		s.kick()
	}
}

// SetTopN changes the render limit used by future cycles (0 = all).
func (s *Scheduler) SetTopN(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.topN = n
	s.mu.Unlock()
}

// TopN returns the render limit.
func (s *Scheduler) TopN() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topN
}

// SetJobs replaces the active jobs, as when the user switches views.
func (s *Scheduler) SetJobs(jobs ...Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append([]Job(nil), jobs...)
	s.newEpochLocked()
	if !s.paused {
		s.kick()
	}
}

// KillQuery asks hostID to kill queryID. It returns at once; the outcome
// arrives as an UpdateKill.
func (s *Scheduler) KillQuery(hostID, queryID string) error {
	if queryID == "" {
		return errors.New(errors.ErrScheduler, "No query selected", "Select a running query first")
	}
	h, ok := s.topo.Host(hostID)
	if !ok {
		return errors.New(errors.ErrScheduler, fmt.Sprintf("Unknown host %q", hostID), "")
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New(errors.ErrScheduler, "Scheduler is not running", "")
	}
	base := s.base
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(base, s.opts.KillTimeout)
		defer cancel()

		_, err := s.conn.Execute(ctx, h.Address, query.KillQueryText, transport.Params{"query_id": queryID})
		if err != nil {
			err = transport.Classify(h.ID, err)
			s.log.Warn("kill %s on %s failed: %v", queryID, h, err)
		} else {
			s.log.Info("kill requested for %s on %s", queryID, h)
		}
		s.publish(base, Update{
			Kind: UpdateKill,
			At:   s.opts.Now(),
			Err:  err,
			Kill: &KillResult{HostID: h.ID, QueryID: queryID},
		})
	}()
	return nil
}

func (s *Scheduler) refreshTopology(ctx context.Context) {
	if !s.discovering.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.discovering.Store(false)

		dctx, cancel := context.WithTimeout(ctx, s.opts.DiscoverInterval)
		defer cancel()
		specs, err := s.opts.Discover(dctx)
		if err != nil {
			s.log.Warn("topology refresh failed: %v", err)
			return
		}
		if len(specs) == 0 {
			s.log.Warn("topology refresh returned no hosts, keeping the current ones")
			return
		}
		res := s.topo.Refresh(specs)
		if !res.Changed() {
			return
		}
		s.log.Info("topology changed: %d added, %d retired, %d back", len(res.Added), len(res.Retired), len(res.Reactivated))
		s.publish(ctx, Update{Kind: UpdateTopology, At: s.opts.Now(), Topology: res})
	}()
}
