package query

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/chdig/internal/transport"
)

// Mode selects whether a window follows the clock.
type Mode int

const (
	// Live windows end at the moment of the query.
	Live Mode = iota
	// Historical windows are fixed and used verbatim.
	Historical
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	if m == Historical {
		return "historical"
	}
	return "live"
}

// Window is the time range windowed templates are evaluated against.
// Start and End are only meaningful in Historical mode; Live windows resolve
// to [now-Span, now) when a cycle starts.
type Window struct {
	Mode  Mode
	Start time.Time
	End   time.Time
	Span  time.Duration
}

// LiveWindow returns a live window of the given span.
func LiveWindow(span time.Duration) Window {
	return Window{Mode: Live, Span: span}
}

// HistoricalWindow returns the fixed window [start, end).
func HistoricalWindow(start, end time.Time) Window {
	return Window{Mode: Historical, Start: start, End: end, Span: end.Sub(start)}
}

// Resolve returns the concrete [start, end) bounds at now.
func (w Window) Resolve(now time.Time) (time.Time, time.Time) {
	if w.Mode == Historical {
		return w.Start, w.End
	}
	return now.Add(-w.Span), now
}

// Params returns the @start and @end parameters for windowed templates.
func (w Window) Params(now time.Time) transport.Params {
	start, end := w.Resolve(now)
	return transport.Params{"start": start, "end": end}
}

// String renders the window for headers.
func (w Window) String() string {
	if w.Mode == Live {
		return fmt.Sprintf("live, last %s", w.Span)
	}
	return fmt.Sprintf("%s .. %s", w.Start.Format("2006-01-02 15:04:05"), w.End.Format("15:04:05"))
}
