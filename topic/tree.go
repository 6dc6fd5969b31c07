package topic

import "sort"

// Tree stores one Node per materialized topic. Children are kept sorted
// by topic so lookups can binary search. The root node always exists and
// is never removed; intermediate nodes are created on demand and are not
// pruned.
//
// The tree does no locking of its own. Callers serialize access, the way
// a broker serializes all state transitions on its own mutex.
type Tree struct {
	root *Node
}

// NewTree creates a tree holding only the root node.
func NewTree() *Tree {
	return &Tree{root: newNode("")}
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// AncestorSearch returns the deepest existing node whose topic is either
// name itself or an ancestor of it. With no deeper match this is the
// root, which matches everything.
func (t *Tree) AncestorSearch(name Topic) *Node {
	n := t.root
	for _, prefix := range name.Prefixes() {
		child := n.findChild(prefix)
		if child == nil {
			break
		}
		n = child
	}
	return n
}

// AddTopicLine materializes every node from ancestor down to name,
// sorted-inserting each new node into its parent's children. It returns
// the terminal node and is idempotent when the line already exists.
//
// ancestor must be a node on name's lineage, typically the result of
// AncestorSearch(name).
func (t *Tree) AddTopicLine(name Topic, ancestor *Node) *Node {
	n := ancestor
	start := ancestor.topic.SegmentCount()
	for _, prefix := range name.Prefixes()[start:] {
		child := n.findChild(prefix)
		if child == nil {
			child = newNode(prefix)
			n.insertChild(child)
		}
		n = child
	}
	return n
}

// Materialize returns the node for name, creating it and any missing
// intermediate nodes.
func (t *Tree) Materialize(name Topic) *Node {
	return t.AddTopicLine(name, t.AncestorSearch(name))
}

// Lineage returns the ordered chain of existing nodes from the root down
// to the deepest ancestor of name, inclusive. The last element is the
// node for name itself when it exists, otherwise its deepest existing
// proper ancestor.
func (t *Tree) Lineage(name Topic) []*Node {
	line := []*Node{t.root}
	n := t.root
	for _, prefix := range name.Prefixes() {
		child := n.findChild(prefix)
		if child == nil {
			break
		}
		line = append(line, child)
		n = child
	}
	return line
}

// Descendants returns n followed by all transitive descendants in
// pre-order. Children sort by topic, so the traversal is deterministic.
func (t *Tree) Descendants(n *Node) []*Node {
	var out []*Node
	collect(n, &out)
	return out
}

func collect(n *Node, out *[]*Node) {
	*out = append(*out, n)
	for _, c := range n.children {
		collect(c, out)
	}
}

// Node is a single topic in the tree. It owns its children, its
// subscriptions, and its persisted messages.
type Node struct {
	topic    Topic
	children []*Node // sorted by topic
	subs     []*Subscription
	persist  []*PersistedMessage
}

func newNode(name Topic) *Node {
	return &Node{topic: name}
}

// Topic returns the node's full dotted name.
func (n *Node) Topic() Topic {
	return n.topic
}

// Children returns a copy of the node's children in topic order.
func (n *Node) Children() []*Node {
	if len(n.children) == 0 {
		return nil
	}
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// findChild binary-searches the children for an exact topic.
func (n *Node) findChild(name Topic) *Node {
	i := sort.Search(len(n.children), func(i int) bool {
		return n.children[i].topic >= name
	})
	if i < len(n.children) && n.children[i].topic == name {
		return n.children[i]
	}
	return nil
}

// insertChild sorted-inserts a child by topic.
func (n *Node) insertChild(c *Node) {
	i := sort.Search(len(n.children), func(i int) bool {
		return n.children[i].topic >= c.topic
	})
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
}
