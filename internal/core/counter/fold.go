package counter

// Total folds the last-known match state of every tracked parent into a count.
// It is recomputed from scratch on every update so duplicate or reordered
// events can never make the count drift.
func Total(matches map[string]bool) int {
	n := 0
	for _, ok := range matches {
		if ok {
			n++
		}
	}
	return n
}

// MembershipDiff compares the tracked parent ids against a new parent snapshot.
// It returns the ids to release and the ids to open, each in snapshot order
// (removed ids in unspecified order).
func MembershipDiff(tracked map[string]struct{}, current []string) (removed, added []string) {
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := tracked[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range tracked {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed, added
}
