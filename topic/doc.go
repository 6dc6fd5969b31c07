// Package topic implements the hierarchical topic store backing a
// broker: dotted topic names, the sorted-children tree with ancestor and
// descendant queries, per-node subscription lists ordered by priority,
// and per-node persisted messages ordered by publication id.
//
// The package holds data and ordering invariants only. Dispatch policy,
// latch resolution, and subscriber invocation live with the broker; the
// broker also serializes all access, so nothing here locks.
package topic
