// Package flamegraph renders call trees into formats flamegraph viewers
// read: Brendan Gregg's folded stacks, d3-flame-graph JSON and pprof.
package flamegraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/rileyhilliard/chdig/internal/errors"
	chprofile "github.com/rileyhilliard/chdig/internal/profile"
	"github.com/zeebo/xxh3"
)

// Format is an export encoding.
type Format string

const (
	FormatFolded Format = "folded"
	FormatJSON   Format = "json"
	FormatPprof  Format = "pprof"
)

// Formats lists the supported encodings.
func Formats() []Format {
	return []Format{FormatFolded, FormatJSON, FormatPprof}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", errors.New(errors.ErrExport,
		fmt.Sprintf("Unknown flamegraph format %q", s),
		"Use one of: folded, json, pprof")
}

// Extension returns the conventional file suffix.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatPprof:
		return ".pb.gz"
	default:
		return ".folded"
	}
}

// Export encodes root. Weights are written in samples; use ExportTree to
// carry a profile's own unit into pprof output.
func Export(root *chprofile.Node, format Format) ([]byte, error) {
	return export(root, format, chprofile.CPU)
}

// ExportTree encodes a built profile.
func ExportTree(tree *chprofile.Tree, format Format) ([]byte, error) {
	if tree == nil {
		return nil, errors.New(errors.ErrExport, "Nothing to export", "Wait for the first profile to finish")
	}
	return export(tree.Root, format, tree.Type)
}

func export(root *chprofile.Node, format Format, typ chprofile.Type) ([]byte, error) {
	if root == nil {
		root = chprofile.NewRoot()
	}
	switch format {
	case FormatFolded:
		return Folded(root), nil
	case FormatJSON:
		return toJSON(root)
	case FormatPprof:
		return toPprof(root, typ)
	default:
		_, err := ParseFormat(string(format))
		return nil, err
	}
}

// Folded renders one "a;b;c weight" line per node with self weight, in
// first-seen order.
func Folded(root *chprofile.Node) []byte {
	var buf bytes.Buffer
	root.Walk(func(path []string, n *chprofile.Node) bool {
		if n.Self > 0 {
			buf.WriteString(strings.Join(path, ";"))
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatInt(n.Self, 10))
			buf.WriteByte('\n')
		}
		return true
	})
	return buf.Bytes()
}

// Fingerprint hashes the folded form so unchanged trees can be skipped.
func Fingerprint(root *chprofile.Node) uint64 {
	if root == nil {
		return 0
	}
	return xxh3.Hash(Folded(root))
}

type jsonNode struct {
	Name     string      `json:"name"`
	Value    int64       `json:"value"`
	Children []*jsonNode `json:"children,omitempty"`
}

func toJSONNode(n *chprofile.Node) *jsonNode {
	out := &jsonNode{Name: n.Frame, Value: n.Total}
	for _, c := range n.Children() {
		out.Children = append(out.Children, toJSONNode(c))
	}
	return out
}

// jsonRootName labels the synthetic root, which viewers expect to be named.
const jsonRootName = "root"

func toJSON(root *chprofile.Node) ([]byte, error) {
	top := toJSONNode(root)
	if top.Name == "" {
		top.Name = jsonRootName
	}
	data, err := json.Marshal(top)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExport, "Couldn't encode flamegraph JSON", "")
	}
	return data, nil
}

// toPprof emits one pprof sample per node with self weight. Locations are
// leaf first, as pprof expects.
func toPprof(root *chprofile.Node, typ chprofile.Type) ([]byte, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: typ.String(), Unit: typ.Unit().String()}},
	}
	locations := make(map[string]*profile.Location)
	location := func(frame string) *profile.Location {
		if loc, ok := locations[frame]; ok {
			return loc
		}
		fn := &profile.Function{ID: uint64(len(p.Function) + 1), Name: frame, SystemName: frame}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{ID: uint64(len(p.Location) + 1), Line: []profile.Line{{Function: fn}}}
		p.Location = append(p.Location, loc)
		locations[frame] = loc
		return loc
	}

	root.Walk(func(path []string, n *chprofile.Node) bool {
		if n.Self <= 0 {
			return true
		}
		locs := make([]*profile.Location, len(path))
		for i, frame := range path {
			locs[len(path)-1-i] = location(frame)
		}
		p.Sample = append(p.Sample, &profile.Sample{Location: locs, Value: []int64{n.Self}})
		return true
	})

	if err := p.CheckValid(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExport, "Built an invalid pprof profile", "")
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExport, "Couldn't encode pprof profile", "")
	}
	return buf.Bytes(), nil
}
