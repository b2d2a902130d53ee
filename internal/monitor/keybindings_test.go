package monitor

import (
	"testing"
	"time"

	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys_PauseToggle(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)

	m = press(t, m, KeyPause)
	assert.Equal(t, scheduler.Paused, h.sched.State())
	assert.Equal(t, "paused", m.status)
	assert.Contains(t, m.View(), "paused")

	m = press(t, m, KeyRefresh)
	assert.True(t, m.statusErr, "refresh is refused while paused")
	assert.Contains(t, m.status, "Refresh is disabled while paused")

	m = press(t, m, KeyPause)
	assert.Equal(t, scheduler.Running, h.sched.State())
	assert.Equal(t, "resumed", m.status)
}

func TestKeys_SeekAndLive(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)

	m = press(t, m, KeySeekBack)
	w := h.sched.Window()
	require.Equal(t, query.Historical, w.Mode)
	assert.Equal(t, testNow.Add(-scheduler.SeekStep), w.End)
	assert.Equal(t, scheduler.Seeking, h.sched.State())

	m = press(t, m, KeySeekBack)
	assert.Equal(t, testNow.Add(-2*scheduler.SeekStep), h.sched.Window().End)

	m = press(t, m, KeySeekForward)
	assert.Equal(t, testNow.Add(-scheduler.SeekStep), h.sched.Window().End)

	// Reaching now returns to live.
	m = press(t, m, KeySeekForward)
	assert.Equal(t, query.Live, h.sched.Window().Mode)

	m = press(t, m, KeySeekBack)
	m = press(t, m, KeyLive)
	assert.Equal(t, query.Live, h.sched.Window().Mode)
	assert.Equal(t, "live", m.status)
}

func TestKeys_Span(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)
	require.Equal(t, time.Hour, h.sched.Window().Span)

	m = press(t, m, KeyWidenSpan)
	assert.Equal(t, 3*time.Hour, h.sched.Window().Span)

	m = press(t, m, KeyNarrowSpan)
	m = press(t, m, KeyNarrowSpan)
	assert.Equal(t, 30*time.Minute, h.sched.Window().Span)

	// A historical window keeps its end.
	m = press(t, m, KeySeekBack)
	end := h.sched.Window().End
	press(t, m, KeyWidenSpan)
	w := h.sched.Window()
	assert.Equal(t, end, w.End)
	assert.Equal(t, time.Hour, w.Span)
}

func TestKeys_TopN(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)
	m = update(t, m, processesUpdate(
		processRow("a", "q1", "u", 3),
		processRow("a", "q2", "u", 2),
		processRow("a", "q3", "u", 1),
	))
	require.Len(t, m.rows, 3)

	steps := []struct {
		key  string
		want int
	}{
		{KeyMoreRows, 30},
		{KeyFewerRows, 20},
		{KeyFewerRows, 10},
		{KeyFewerRows, 1},
		{KeyFewerRows, 1},
		{KeyMoreRows, 11},
	}
	for _, s := range steps {
		m = press(t, m, s.key)
		assert.Equal(t, s.want, h.sched.TopN(), "after %s", s.key)
	}

	// The limit applies to the rows on screen right away.
	m = press(t, m, KeyFewerRows)
	m = press(t, m, KeyFewerRows)
	assert.Len(t, m.rows, 1)
	m = press(t, m, KeyMoreRows)
	assert.Len(t, m.rows, 3)
}

func TestKeys_SwitchView(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, true)

	m = press(t, m, KeyNextView)
	assert.Equal(t, "slow_queries", m.currentView().Name)
	assert.Equal(t, []string{"slow_queries"}, h.sched.Info().Jobs)

	m = press(t, m, KeyPrevView)
	m = press(t, m, KeyPrevView)
	assert.Equal(t, LiveStacksView, m.currentView().Name)
	assert.Equal(t, []string{LiveStacksView}, h.sched.Info().Jobs)

	// Jobs are reused so a view keeps its series.
	first := m.jobs["processes"]
	m = press(t, m, KeyNextView)
	assert.Same(t, first, m.jobs["processes"])
}

func TestKeys_Kill(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)

	m = press(t, m, KeyKill)
	assert.True(t, m.statusErr)
	assert.Equal(t, "no query selected", m.status)

	m = update(t, m, processesUpdate(processRow("a", "q1", "u", 3)))
	m = press(t, m, KeyKill)
	assert.True(t, m.statusErr, "the scheduler is not running")
	assert.Contains(t, m.status, "Scheduler is not running")

	m = press(t, m, KeyNextView)
	m = press(t, m, KeyKill)
	assert.Equal(t, "kill only works on running queries", m.status)
}

func TestKeys_DetailView(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, false)

	m = press(t, m, "enter")
	assert.Equal(t, ViewList, m.viewMode, "nothing to expand without rows")

	m = update(t, m, processesUpdate(processRow("a", "q1", "alice", 3)))
	m = press(t, m, "enter")
	require.Equal(t, ViewDetail, m.viewMode)
	view := m.View()
	assert.Contains(t, view, "Queries a/q1")
	assert.Contains(t, view, "alice")
	assert.Contains(t, view, "a:9000")

	m = press(t, m, "esc")
	assert.Equal(t, ViewList, m.viewMode)
}

func TestKeys_QueryFlamegraphNeedsQueryView(t *testing.T) {
	h := newHarness(t, "a")
	m := h.model(t, true)

	handled, cmd := m.HandleKeyMsg(keyMsg(KeyQueryFlame))
	assert.True(t, handled)
	assert.Nil(t, cmd, "no row selected")

	m = update(t, m, processesUpdate(processRow("a", "q1", "u", 3)))
	_, cmd = m.HandleKeyMsg(keyMsg(KeyQueryFlame))
	assert.NotNil(t, cmd)
	assert.Equal(t, "building CPU flamegraph of q1...", m.status)
}

func TestNextSpan(t *testing.T) {
	tests := []struct {
		name string
		cur  time.Duration
		dir  int
		want time.Duration
	}{
		{"widen", time.Hour, 1, 3 * time.Hour},
		{"narrow", time.Hour, -1, 30 * time.Minute},
		{"widen between steps", 2 * time.Hour, 1, 3 * time.Hour},
		{"narrow between steps", 2 * time.Hour, -1, time.Hour},
		{"narrowest", 5 * time.Minute, -1, 5 * time.Minute},
		{"widest", 7 * 24 * time.Hour, 1, 7 * 24 * time.Hour},
		{"below range", time.Minute, -1, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextSpan(tt.cur, tt.dir))
		})
	}
}
