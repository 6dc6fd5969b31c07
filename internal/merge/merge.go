// Package merge provides a k-way merge over pre-sorted sequences.
//
// The broker uses it in two places: merging persisted messages from
// descendant nodes by publication order for late delivery, and merging
// subscription lists from ancestor nodes by priority for dispatch.
package merge

import "cmp"

// Sorted merges the given lists, each already sorted ascending by the
// projected key, into a single ascending sequence.
//
// Ties across lists resolve to the earliest list, so callers control
// tie-breaking by list order. Elements within one list never reorder.
func Sorted[T any, K cmp.Ordered](lists [][]T, key func(T) K) []T {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		out := make([]T, len(lists[0]))
		copy(out, lists[0])
		return out
	}

	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if total == 0 {
		return nil
	}

	// One cursor per list; an exhausted list drops out of the min scan.
	heads := make([]int, len(lists))
	out := make([]T, 0, total)

	for len(out) < total {
		best := -1
		var bestKey K
		for i, l := range lists {
			if heads[i] >= len(l) {
				continue
			}
			k := key(l[heads[i]])
			if best < 0 || k < bestKey {
				best = i
				bestKey = k
			}
		}
		out = append(out, lists[best][heads[best]])
		heads[best]++
	}

	return out
}
