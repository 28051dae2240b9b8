package shared

import "slices"

// LockOrder returns the ids deduplicated and sorted ascending. Row locks on a
// set of entities must be taken in this order so concurrent writers never
// wait on each other in a cycle.
func LockOrder(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
