package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Resolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	live := LiveWindow(time.Hour)
	start, end := live.Resolve(now)
	assert.Equal(t, now.Add(-time.Hour), start)
	assert.Equal(t, now, end)

	// Live windows follow the clock.
	later := now.Add(time.Minute)
	start, end = live.Resolve(later)
	assert.Equal(t, later.Add(-time.Hour), start)
	assert.Equal(t, later, end)

	hs, he := now.Add(-2*time.Hour), now.Add(-time.Hour)
	hist := HistoricalWindow(hs, he)
	assert.Equal(t, time.Hour, hist.Span)
	start, end = hist.Resolve(later)
	assert.Equal(t, hs, start)
	assert.Equal(t, he, end)

	params := hist.Params(later)
	assert.Equal(t, hs, params["start"])
	assert.Equal(t, he, params["end"])
}

func TestWindow_String(t *testing.T) {
	assert.Equal(t, "live, last 1h0m0s", LiveWindow(time.Hour).String())

	start := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	w := HistoricalWindow(start, start.Add(30*time.Minute))
	assert.Equal(t, "2026-03-01 11:00:00 .. 11:30:00", w.String())
	assert.Equal(t, "historical", w.Mode.String())
	assert.Equal(t, "live", Live.String())
}
