package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/flamegraph"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/scheduler"
	"github.com/rileyhilliard/chdig/internal/snapshot"
)

// Layout sizes in lines.
const (
	headerHeight = 3
	footerHeight = 2

	// flamegraphTimeout bounds a one-shot profile build.
	flamegraphTimeout = 30 * time.Second
)

// Options wires the model to the telemetry engine.
type Options struct {
	Scheduler *scheduler.Scheduler
	Executor  *fanout.Executor
	Store     *snapshot.Store
	// Collector builds flamegraphs. Nil disables F, f and the live view.
	Collector *profile.Collector
	// Sink receives exported flamegraphs when it has a destination.
	Sink   flamegraph.Sink
	Format flamegraph.Format
	Log    logger.Logger
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	sched     *scheduler.Scheduler
	exec      *fanout.Executor
	store     *snapshot.Store
	collector *profile.Collector
	sink      flamegraph.Sink
	format    flamegraph.Format
	log       logger.Logger

	views   []View
	current int
	jobs    map[string]scheduler.Job

	snapshots map[string]*snapshot.Snapshot
	errs      map[string]error
	live      *profile.Tree

	table table.Model
	rows  []query.Row

	// tree is the last one-shot flamegraph, shown in ViewFlamegraph.
	tree      *profile.Tree
	treeTitle string
	building  bool

	width      int
	height     int
	viewMode   ViewMode
	showHelp   bool
	quitting   bool
	status     string
	statusErr  bool
	lastUpdate time.Time

	detailViewport viewport.Model
	viewportReady  bool
}

// updateMsg carries one scheduler update.
type updateMsg scheduler.Update

// updatesClosedMsg means the scheduler stopped.
type updatesClosedMsg struct{}

// flamegraphMsg carries a finished one-shot flamegraph.
type flamegraphMsg struct {
	title string
	tree  *profile.Tree
	path  string
	err   error
}

// NewModel creates the dashboard model.
func NewModel(opts Options) Model {
	log := opts.Log
	if log == nil {
		log = logger.Noop()
	}
	store := opts.Store
	if store == nil {
		store = snapshot.NewStore(0)
	}
	format := opts.Format
	if format == "" {
		format = flamegraph.FormatFolded
	}

	views := DefaultViews()
	if opts.Collector == nil {
		views = views[:len(views)-1]
	}

	return Model{
		sched:     opts.Scheduler,
		exec:      opts.Executor,
		store:     store,
		collector: opts.Collector,
		sink:      opts.Sink,
		format:    format,
		log:       log,
		views:     views,
		jobs:      make(map[string]scheduler.Job),
		snapshots: make(map[string]*snapshot.Snapshot),
		errs:      make(map[string]error),
		table:     newTable(),
	}
}

// Init points the scheduler at the first view and starts listening.
func (m Model) Init() tea.Cmd {
	m.sched.SetJobs(m.jobFor(m.views[m.current]))
	return waitForUpdate(m.sched.Updates())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		handled, cmd := m.HandleKeyMsg(msg)
		if handled {
			return m, cmd
		}
		return m.forwardKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case updateMsg:
		m.applyUpdate(scheduler.Update(msg))
		return m, waitForUpdate(m.sched.Updates())

	case updatesClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case flamegraphMsg:
		m.building = false
		if msg.err != nil {
			m.setStatus(true, "flamegraph failed: %s", errors.Short(msg.err))
			return m, nil
		}
		m.tree = msg.tree
		m.treeTitle = msg.title
		m.viewMode = ViewFlamegraph
		m.updateViewportContent()
		m.detailViewport.GotoTop()
		if msg.path != "" {
			m.setStatus(false, "flamegraph written to %s", msg.path)
		} else {
			m.setStatus(false, "%s", msg.title)
		}
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// waitForUpdate blocks until the scheduler publishes or stops.
func waitForUpdate(ch <-chan scheduler.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func (m *Model) applyUpdate(u scheduler.Update) {
	switch u.Kind {
	case scheduler.UpdateSnapshot, scheduler.UpdateFlamegraph, scheduler.UpdateError:
		// Results that were queued before a pause, seek or view switch.
		if u.Epoch != m.sched.Epoch() {
			m.log.Debug("%s: ignoring update from epoch %d", u.Job, u.Epoch)
			return
		}
	}

	switch u.Kind {
	case scheduler.UpdateSnapshot:
		m.snapshots[u.Job] = u.Snapshot
		delete(m.errs, u.Job)
		m.lastUpdate = u.At
		if u.Job == m.currentView().Name {
			m.refreshRows()
		}

	case scheduler.UpdateFlamegraph:
		m.live = u.Tree
		delete(m.errs, u.Job)
		m.lastUpdate = u.At
		if m.viewMode == ViewList && m.currentView().Profile() {
			m.updateViewportContent()
		}

	case scheduler.UpdateError:
		m.errs[u.Job] = u.Err
		m.log.Debug("%s: %v", u.Job, u.Err)

	case scheduler.UpdateKill:
		if u.Err != nil {
			m.setStatus(true, "kill %s failed: %s", u.Kill.QueryID, errors.Short(u.Err))
		} else {
			m.setStatus(false, "kill requested for %s on %s", u.Kill.QueryID, u.Kill.HostID)
		}

	case scheduler.UpdateTopology:
		t := u.Topology
		m.setStatus(false, "topology changed: %d added, %d retired, %d back",
			len(t.Added), len(t.Retired), len(t.Reactivated))
	}

	if m.viewMode == ViewDetail {
		m.updateViewportContent()
	}
}

func (m *Model) setStatus(isErr bool, format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = isErr
}

func (m *Model) currentView() View {
	return m.views[m.current]
}

// jobFor returns the scheduler job backing v, creating it on first use so a
// view keeps its series across tab switches.
func (m *Model) jobFor(v View) scheduler.Job {
	if job, ok := m.jobs[v.Name]; ok {
		return job
	}
	var job scheduler.Job
	if v.Profile() {
		job = scheduler.NewProfileJob(profile.NewLiveSession(m.collector, liveType, nil))
	} else {
		job = scheduler.NewSnapshotJob(m.exec, v.Template, m.store.Series(v.Name), nil)
	}
	m.jobs[v.Name] = job
	return job
}

// switchView moves by delta tabs, wrapping around.
func (m *Model) switchView(delta int) {
	n := len(m.views)
	m.current = ((m.current+delta)%n + n) % n
	v := m.currentView()
	m.sched.SetJobs(m.jobFor(v))
	m.viewMode = ViewList
	m.table.SetCursor(0)
	m.refreshRows()
	if v.Profile() {
		m.updateViewportContent()
	}
}

// selectedRow returns the row under the table cursor.
func (m *Model) selectedRow() (*query.Row, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return nil, false
	}
	return &m.rows[i], true
}

func (m *Model) resize() {
	h := m.height - headerHeight - footerHeight
	if h < 1 {
		h = 1
	}
	if !m.viewportReady {
		m.detailViewport = viewport.New(m.width, h)
		m.detailViewport.YPosition = headerHeight
		m.viewportReady = true
	} else {
		m.detailViewport.Width = m.width
		m.detailViewport.Height = h
	}
	m.table.SetWidth(m.width)
	m.table.SetHeight(h)
	m.refreshRows()
	m.updateViewportContent()
}

// forwardKey passes unhandled keys to the focused widget for scrolling.
func (m Model) forwardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.viewMode != ViewList || m.currentView().Profile() {
		m.detailViewport, cmd = m.detailViewport.Update(msg)
		return m, cmd
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) updateViewportContent() {
	if !m.viewportReady {
		return
	}
	switch {
	case m.viewMode == ViewDetail:
		m.detailViewport.SetContent(m.renderDetail())
	case m.viewMode == ViewFlamegraph:
		m.detailViewport.SetContent(SectionStyle.Render(m.treeTitle) + "\n" + renderTree(m.tree, m.width))
	case m.currentView().Profile():
		m.detailViewport.SetContent(renderTree(m.live, m.width))
	}
}

// flamegraphCmd builds a CPU flamegraph over the current window in the
// background and hands it to the sink when one is configured.
func (m *Model) flamegraphCmd(title string, queryIDs []string) tea.Cmd {
	if m.collector == nil {
		m.setStatus(true, "flamegraphs are not available")
		return nil
	}
	if m.building {
		return nil
	}
	m.building = true
	m.setStatus(false, "building %s...", title)

	collector, sink, format := m.collector, m.sink, m.format
	window := m.sched.Window()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), flamegraphTimeout)
		defer cancel()

		tree, err := collector.Build(ctx, profile.CPU, window, queryIDs)
		if err != nil {
			return flamegraphMsg{title: title, err: err}
		}
		msg := flamegraphMsg{title: title, tree: tree}
		if sink.Output == "" && sink.Viewer == "" {
			return msg
		}
		data, err := flamegraph.ExportTree(tree, format)
		if err != nil {
			return flamegraphMsg{title: title, err: err}
		}
		msg.path, msg.err = sink.Deliver(ctx, data, "chdig-cpu", format)
		return msg
	}
}
