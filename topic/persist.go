package topic

import "sort"

// PersistedMessage is a retained publication replayed to subscribers
// that arrive after it was published. Order is the broker id assigned at
// publish time; within a node the list ascends by Order because ids are
// monotonic.
type PersistedMessage struct {
	Topic Topic
	Data  any
	Order uint64
}

// AppendPersisted appends a retained publication. Ids are monotonic, so
// appending preserves the ascending Order invariant.
func (n *Node) AppendPersisted(m *PersistedMessage) {
	n.persist = append(n.persist, m)
}

// RemovePersistedOrder binary-searches the node's persisted messages by
// order and splices the match out. Returns false when no message with
// that order exists.
func (n *Node) RemovePersistedOrder(order uint64) bool {
	i := sort.Search(len(n.persist), func(i int) bool {
		return n.persist[i].Order >= order
	})
	if i >= len(n.persist) || n.persist[i].Order != order {
		return false
	}
	n.persist = append(n.persist[:i], n.persist[i+1:]...)
	return true
}

// ClearPersisted drops every persisted message on the node and returns
// how many were removed. Ancestors and siblings are unaffected; sweeping
// a subtree is the caller's loop over Descendants.
func (n *Node) ClearPersisted() int {
	count := len(n.persist)
	n.persist = nil
	return count
}

// PersistedMessages returns a copy of the node's persisted messages in
// creation order.
func (n *Node) PersistedMessages() []*PersistedMessage {
	if len(n.persist) == 0 {
		return nil
	}
	out := make([]*PersistedMessage, len(n.persist))
	copy(out, n.persist)
	return out
}
