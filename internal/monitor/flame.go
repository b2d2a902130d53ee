package monitor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rileyhilliard/chdig/internal/profile"
)

// Text flamegraph limits.
const (
	flameMaxDepth = 32
	// flameMinShare hides frames below this share of the root.
	flameMinShare = 0.005
	flameBarWidth = 20
)

// renderTree draws a call tree top down, heaviest children first, one frame
// per line with its share of the root.
func renderTree(tree *profile.Tree, width int) string {
	if tree == nil {
		return LabelStyle.Render("  waiting for samples...")
	}

	var b strings.Builder
	b.WriteString(renderTreeSummary(tree))
	b.WriteString("\n\n")

	root := tree.Root
	if root.Empty() {
		b.WriteString(LabelStyle.Render("  no samples in this window"))
		return b.String()
	}

	var visit func(n *profile.Node, depth int)
	visit = func(n *profile.Node, depth int) {
		if depth >= flameMaxDepth {
			return
		}
		children := n.Children()
		sort.SliceStable(children, func(i, j int) bool { return children[i].Total > children[j].Total })
		for _, c := range children {
			share := float64(c.Total) / float64(root.Total)
			if share < flameMinShare {
				continue
			}
			b.WriteString(renderFrameLine(c, share, depth, width))
			b.WriteString("\n")
			visit(c, depth+1)
		}
	}
	visit(root, 0)
	return b.String()
}

func renderTreeSummary(tree *profile.Tree) string {
	weight := humanize.Comma(tree.Root.Total)
	if tree.Type.Unit() == profile.UnitBytes {
		weight = humanize.IBytes(uint64(max(tree.Root.Total, 0)))
	} else {
		weight += " " + tree.Type.Unit().String()
	}
	parts := []string{
		SectionStyle.Render(tree.Type.String()),
		ValueStyle.Render(weight),
		LabelStyle.Render(fmt.Sprintf("%d stacks from %d hosts", tree.Samples, len(tree.Hosts))),
	}
	if tree.Rejected > 0 {
		parts = append(parts, LabelStyle.Render(fmt.Sprintf("%d rejected", tree.Rejected)))
	}
	if tree.Misses > 0 {
		parts = append(parts, PartialStyle.Render(fmt.Sprintf("%d unresolved frames", tree.Misses)))
	}
	if tree.Partial() {
		parts = append(parts, PartialStyle.Render(strings.Join(tree.Failed, ", ")+" failed"))
	}
	return strings.Join(parts, LabelStyle.Render(" | "))
}

func renderFrameLine(n *profile.Node, share float64, depth, width int) string {
	filled := int(share * flameBarWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", flameBarWidth-filled)
	prefix := fmt.Sprintf("%5.1f%% ", share*100)
	indent := strings.Repeat("  ", depth)

	frame := n.Frame
	if room := width - len(prefix) - flameBarWidth - 1 - len(indent); width > 0 && room > 8 {
		frame = truncateWithEllipsis(frame, room)
	}
	return LabelStyle.Render(prefix) + FlameBarStyle.Render(bar) + " " + indent + ValueStyle.Render(frame)
}
