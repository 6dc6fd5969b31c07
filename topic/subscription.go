package topic

import "sort"

// Subscription is one subscriber registered on a node.
//
// Fn is the subscriber callable in one of the shapes the broker's
// invoker understands; any other value acts as a no-op subscriber.
// Context is an opaque receiver handed back to the subscriber on every
// delivery. Suspended subscriptions stay registered but are skipped by
// dispatch.
type Subscription struct {
	ID        uint64
	Fn        any
	Priority  float64
	Context   any
	Suspended bool
}

// InsertSubscription sorted-inserts by priority ascending. Equal
// priorities keep insertion order, which is id order because ids are
// monotonic.
func (n *Node) InsertSubscription(s *Subscription) {
	i := sort.Search(len(n.subs), func(i int) bool {
		return n.subs[i].Priority > s.Priority
	})
	n.subs = append(n.subs, nil)
	copy(n.subs[i+1:], n.subs[i:])
	n.subs[i] = s
}

// findSubscription locates a subscription by priority and id. The
// priority anchors a binary search; the scan then widens in both
// directions across the equal-priority run to match the id.
func (n *Node) findSubscription(priority float64, id uint64) int {
	anchor := sort.Search(len(n.subs), func(i int) bool {
		return n.subs[i].Priority >= priority
	})
	for i := anchor; i < len(n.subs) && n.subs[i].Priority == priority; i++ {
		if n.subs[i].ID == id {
			return i
		}
	}
	for i := anchor - 1; i >= 0 && n.subs[i].Priority == priority; i-- {
		if n.subs[i].ID == id {
			return i
		}
	}
	return -1
}

// RemoveSubscription removes the subscription matching priority and id.
// Returns false when no such subscription exists.
func (n *Node) RemoveSubscription(priority float64, id uint64) bool {
	i := n.findSubscription(priority, id)
	if i < 0 {
		return false
	}
	n.subs = append(n.subs[:i], n.subs[i+1:]...)
	return true
}

// SetSuspended flips the suspension flag on the subscription matching
// priority and id. Returns false when no such subscription exists.
func (n *Node) SetSuspended(priority float64, id uint64, suspended bool) bool {
	i := n.findSubscription(priority, id)
	if i < 0 {
		return false
	}
	n.subs[i].Suspended = suspended
	return true
}

// SuspendAll sets the suspension flag on every subscription of the node
// and returns how many subscriptions it touched.
func (n *Node) SuspendAll(suspended bool) int {
	for _, s := range n.subs {
		s.Suspended = suspended
	}
	return len(n.subs)
}

// RemoveAllSubscriptions drops every subscription of the node and
// returns how many were removed.
func (n *Node) RemoveAllSubscriptions() int {
	count := len(n.subs)
	n.subs = nil
	return count
}

// Subscriptions returns a copy of the node's subscriptions in priority
// order, ascending.
func (n *Node) Subscriptions() []*Subscription {
	if len(n.subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(n.subs))
	copy(out, n.subs)
	return out
}

// DispatchOrder returns the node's active subscriptions in dispatch
// order: priority descending, and registration (id) order within equal
// priority. Suspended subscriptions are skipped.
func (n *Node) DispatchOrder() []*Subscription {
	if len(n.subs) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(n.subs))
	// Walk equal-priority runs from the back so priorities descend while
	// each run keeps its insertion order.
	end := len(n.subs)
	for end > 0 {
		start := end - 1
		for start > 0 && n.subs[start-1].Priority == n.subs[end-1].Priority {
			start--
		}
		for i := start; i < end; i++ {
			if !n.subs[i].Suspended {
				out = append(out, n.subs[i])
			}
		}
		end = start
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
