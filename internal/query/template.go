// Package query defines query templates and the contract that turns a raw
// per-host result set into typed rows.
//
// A Template is immutable and owned by whoever defines a view; the engine
// only reads it. Malformed templates are programmer errors and panic in
// MustTemplate.
package query

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/chdig/internal/transport"
)

// Kind is the semantic role of a result column.
type Kind int

const (
	// KindKey columns form the row's native id on its host.
	KindKey Kind = iota
	// KindLabel columns are descriptive text.
	KindLabel
	// KindMetric columns are numeric and may be rated between snapshots.
	KindMetric
	// KindFrames columns hold a stack: an array of addresses or symbol names.
	KindFrames
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindLabel:
		return "label"
	case KindMetric:
		return "metric"
	case KindFrames:
		return "frames"
	default:
		return "unknown"
	}
}

// Column binds a result column name to its Kind.
type Column struct {
	Name string
	Kind Kind
	// Display hints for the table renderer.
	Title string
	Unit  Unit
}

// Unit tells the renderer how to format a metric.
type Unit int

const (
	UnitNone Unit = iota
	UnitBytes
	UnitSeconds
	UnitMicroseconds
	UnitPercent
	UnitCount
	// UnitTimestamp metrics are unix seconds.
	UnitTimestamp
)

// Key declares a key column. Key columns are also available as labels.
func Key(name string) Column { return Column{Name: name, Kind: KindKey} }

// Label declares a label column.
func Label(name string) Column { return Column{Name: name, Kind: KindLabel} }

// Metric declares a numeric column rendered with unit.
func Metric(name string, unit Unit) Column { return Column{Name: name, Kind: KindMetric, Unit: unit} }

// Frames declares a stack column.
func Frames(name string) Column { return Column{Name: name, Kind: KindFrames} }

// Titled returns a copy of c with a display title.
func (c Column) Titled(title string) Column {
	c.Title = title
	return c
}

// Header returns the title shown in table headers.
func (c Column) Header() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Name
}

// Spec is the mutable description a Template is built from.
type Spec struct {
	Name string
	// Title is the human-facing view name, defaults to Name.
	Title   string
	Text    string
	Columns []Column
	// Order is the default ordering for merged snapshots.
	Order Ordering
	// Windowed templates receive @start and @end parameters.
	Windowed bool
	// Variants replace Text on hosts where the quirk applies.
	Variants map[transport.Quirk]string
	// Settings are per-query server settings.
	Settings map[string]any
}

// Template is an immutable named query plus its decoding contract.
type Template struct {
	name     string
	title    string
	text     string
	columns  []Column
	byName   map[string]int
	order    Ordering
	windowed bool
	variants map[transport.Quirk]string
	settings map[string]any
}

// MustTemplate validates spec and builds a Template. It panics when the
// spec has no name, no text, no columns, or duplicate column names.
func MustTemplate(spec Spec) *Template {
	t, err := NewTemplate(spec)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTemplate is MustTemplate returning the validation error instead of panicking.
func NewTemplate(spec Spec) (*Template, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("query: template without a name")
	}
	if strings.TrimSpace(spec.Text) == "" {
		return nil, fmt.Errorf("query: template %q has no query text", spec.Name)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("query: template %q declares no columns", spec.Name)
	}

	t := &Template{
		name:     spec.Name,
		title:    spec.Title,
		text:     spec.Text,
		columns:  append([]Column(nil), spec.Columns...),
		byName:   make(map[string]int, len(spec.Columns)),
		order:    spec.Order,
		windowed: spec.Windowed,
		variants: make(map[transport.Quirk]string, len(spec.Variants)),
		settings: make(map[string]any, len(spec.Settings)),
	}
	frames := 0
	for i, c := range spec.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("query: template %q has an unnamed column at %d", spec.Name, i)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("query: template %q declares column %q twice", spec.Name, c.Name)
		}
		if c.Kind == KindFrames {
			frames++
		}
		t.byName[c.Name] = i
	}
	if frames > 1 {
		return nil, fmt.Errorf("query: template %q declares more than one frames column", spec.Name)
	}
	for q, text := range spec.Variants {
		t.variants[q] = text
	}
	for k, v := range spec.Settings {
		t.settings[k] = v
	}
	if t.title == "" {
		t.title = t.name
	}
	if t.order == nil {
		t.order = func(a, b *Row) int { return 0 }
	}
	return t, nil
}

// Name returns the template name; rows are tagged with it.
func (t *Template) Name() string { return t.name }

// Title returns the display name.
func (t *Template) Title() string { return t.title }

// Text returns the base query text.
func (t *Template) Text() string { return t.text }

// TextFor returns the query text for a host with the given quirks. The first
// matching variant in quirk order wins.
func (t *Template) TextFor(q transport.Quirks) string {
	for _, quirk := range q.Active() {
		if text, ok := t.variants[quirk]; ok {
			return text
		}
	}
	return t.text
}

// Columns returns a copy of the declared columns.
func (t *Template) Columns() []Column { return append([]Column(nil), t.columns...) }

// Column looks up a declared column by name.
func (t *Template) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Order returns the default ordering.
func (t *Template) Order() Ordering { return t.order }

// Windowed reports whether the query consumes the time window.
func (t *Template) Windowed() bool { return t.windowed }

// Settings returns a copy of the per-query settings.
func (t *Template) Settings() map[string]any {
	out := make(map[string]any, len(t.settings))
	for k, v := range t.settings {
		out[k] = v
	}
	return out
}
