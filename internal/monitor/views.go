package monitor

import (
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/query"
)

// LiveStacksView is the name of the view backed by a live profile job.
const LiveStacksView = "flamegraph_live"

// View is one dashboard tab.
type View struct {
	Name  string
	Title string
	// Template is nil for the live stack view.
	Template *query.Template
	// RateOf names a counter metric shown with its per-second rate.
	RateOf string
	// Killable views hold running queries keyed by query_id.
	Killable bool
	// QueryScoped views can open a flamegraph of the selected query.
	QueryScoped bool
}

// Profile reports whether the view renders a call tree instead of a table.
func (v View) Profile() bool { return v.Template == nil }

// DefaultViews returns the catalog tabs followed by the live stack view.
func DefaultViews() []View {
	var views []View
	for _, t := range query.Catalog() {
		v := View{Name: t.Name(), Title: t.Title(), Template: t}
		switch t {
		case query.Processes:
			v.Killable = true
			v.QueryScoped = true
		case query.SlowQueries, query.LastQueries:
			v.QueryScoped = true
		case query.Events, query.Errors:
			v.RateOf = "value"
		}
		views = append(views, v)
	}
	views = append(views, View{Name: LiveStacksView, Title: "Live stacks"})
	return views
}

// liveType is the profile type the live stack view samples.
const liveType = profile.Live
