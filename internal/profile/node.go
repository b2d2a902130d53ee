package profile

// Node is one frame in a call tree. Total is the weight of every sample that
// passed through the frame; Self is the part that ended here.
type Node struct {
	Frame string
	Self  int64
	Total int64

	children map[string]*Node
	order    []*Node
}

// NewRoot returns an empty tree root. The root is synthetic and has no
// frame.
func NewRoot() *Node {
	return &Node{}
}

// Child returns the child for frame, or nil.
func (n *Node) Child(frame string) *Node {
	return n.children[frame]
}

// Children returns the children in first-seen order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.order))
	copy(out, n.order)
	return out
}

func (n *Node) findOrAdd(frame string) *Node {
	if c, ok := n.children[frame]; ok {
		return c
	}
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	c := &Node{Frame: frame}
	n.children[frame] = c
	n.order = append(n.order, c)
	return c
}

// Add records one stack, root first, with the given weight.
func (n *Node) Add(frames []string, weight int64) {
	n.Total += weight
	cur := n
	for _, f := range frames {
		cur = cur.findOrAdd(f)
		cur.Total += weight
	}
	cur.Self += weight
}

// Walk visits every node below n depth first. path holds the frames from the
// first level down to the visited node and is reused between calls, so copy
// it to keep it. Returning false skips the subtree.
func (n *Node) Walk(fn func(path []string, node *Node) bool) {
	var visit func(path []string, node *Node)
	visit = func(path []string, node *Node) {
		for _, c := range node.order {
			p := append(path, c.Frame)
			if fn(p, c) {
				visit(p, c)
			}
		}
	}
	visit(make([]string, 0, 32), n)
}

// Len counts the nodes below n.
func (n *Node) Len() int {
	count := 0
	n.Walk(func([]string, *Node) bool {
		count++
		return true
	})
	return count
}

// Empty reports whether no weight was recorded.
func (n *Node) Empty() bool {
	return n == nil || n.Total == 0
}
