package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/scheduler"
)

// ViewMode defines the current display mode of the dashboard.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewFlamegraph
)

// Key bindings as constants for consistency.
const (
	KeyQuit        = "q"
	KeyQuitAlt     = "ctrl+c"
	KeyPause       = "p"
	KeyRefresh     = "r"
	KeySeekBack    = "T"
	KeySeekForward = "t"
	KeyLive        = "L"
	KeyNarrowSpan  = "["
	KeyWidenSpan   = "]"
	KeyMoreRows    = "+"
	KeyFewerRows   = "-"
	KeyNextView    = "tab"
	KeyPrevView    = "shift+tab"
	KeyKill        = "K"
	KeyServerFlame = "F"
	KeyQueryFlame  = "f"
	KeyExpand      = "enter"
	KeyCollapse    = "esc"
	KeyToggleHelp  = "?"
)

// topNStep is how many rows one +/- press adds or removes.
const topNStep = 10

// spanSteps are the widths [ and ] move between.
var spanSteps = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
}

// nextSpan returns the next step wider (dir > 0) or narrower than cur, or
// cur at either end.
func nextSpan(cur time.Duration, dir int) time.Duration {
	if dir > 0 {
		for _, s := range spanSteps {
			if s > cur {
				return s
			}
		}
		return cur
	}
	for i := len(spanSteps) - 1; i >= 0; i-- {
		if spanSteps[i] < cur {
			return spanSteps[i]
		}
	}
	return cur
}

// HandleKeyMsg processes keyboard input and returns updated model state and command.
// Returns true if the key was handled, false otherwise.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()

	if key == KeyToggleHelp {
		m.showHelp = !m.showHelp
		return true, nil
	}

	if m.showHelp && key == KeyCollapse {
		m.showHelp = false
		return true, nil
	}

	if m.viewMode != ViewList && key == KeyCollapse {
		m.viewMode = ViewList
		m.updateViewportContent()
		return true, nil
	}

	switch key {
	case KeyQuit, KeyQuitAlt:
		m.quitting = true
		return true, tea.Quit

	case KeyPause:
		if m.sched.TogglePause() == scheduler.Paused {
			m.setStatus(false, "paused")
		} else {
			m.setStatus(false, "resumed")
		}
		return true, nil

	case KeyRefresh:
		if err := m.sched.RefreshNow(); err != nil {
			m.setStatus(true, "%s", errors.Short(err))
		}
		return true, nil

	case KeySeekBack:
		w := m.sched.Seek(-scheduler.SeekStep)
		m.setStatus(false, "window %s", w)
		return true, nil

	case KeySeekForward:
		w := m.sched.Seek(scheduler.SeekStep)
		m.setStatus(false, "window %s", w)
		return true, nil

	case KeyLive:
		m.sched.SetLive()
		m.setStatus(false, "live")
		return true, nil

	case KeyNarrowSpan, KeyWidenSpan:
		dir := 1
		if key == KeyNarrowSpan {
			dir = -1
		}
		span := nextSpan(m.sched.Window().Span, dir)
		if err := m.sched.SetTimeInterval(span); err != nil {
			m.setStatus(true, "%s", errors.Short(err))
		}
		return true, nil

	case KeyMoreRows, KeyFewerRows:
		n := m.sched.TopN()
		if key == KeyMoreRows {
			n += topNStep
		} else if n > topNStep {
			n -= topNStep
		} else if n > 1 {
			n = 1
		}
		m.sched.SetTopN(n)
		m.refreshRows()
		return true, nil

	case KeyNextView:
		m.switchView(1)
		return true, nil

	case KeyPrevView:
		m.switchView(-1)
		return true, nil

	case KeyKill:
		m.killSelected()
		return true, nil

	case KeyServerFlame:
		return true, m.flamegraphCmd("server CPU flamegraph", nil)

	case KeyQueryFlame:
		if !m.currentView().QueryScoped {
			return true, nil
		}
		row, ok := m.selectedRow()
		if !ok {
			return true, nil
		}
		id := row.Key.NativeID
		return true, m.flamegraphCmd("CPU flamegraph of "+id, []string{id})

	case KeyExpand:
		if m.viewMode == ViewList && !m.currentView().Profile() {
			if _, ok := m.selectedRow(); ok {
				m.viewMode = ViewDetail
				m.updateViewportContent()
				m.detailViewport.GotoTop()
			}
		}
		return true, nil
	}

	return false, nil
}

func (m *Model) killSelected() {
	if !m.currentView().Killable {
		m.setStatus(true, "kill only works on running queries")
		return
	}
	row, ok := m.selectedRow()
	if !ok {
		m.setStatus(true, "no query selected")
		return
	}
	if err := m.sched.KillQuery(row.Key.HostID, row.Key.NativeID); err != nil {
		m.setStatus(true, "%s", errors.Short(err))
		return
	}
	m.setStatus(false, "killing %s on %s...", row.Key.NativeID, row.Key.HostID)
}
