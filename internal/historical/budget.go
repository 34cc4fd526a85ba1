package historical

import "sort"

// Priority orders which histories keep their resolution under a size budget.
type Priority uint8

const (
	PriorityIdle   Priority = iota // nothing moved
	PriorityMoving                 // an agent in motion
	PriorityHuman                  // a human-controlled player
)

// Entry is one history to pack.
type Entry struct {
	ID       uint64
	Priority Priority
	Object   *Object
}

// reductionLevels are the per-field sample caps tried in turn, coarsest last.
var reductionLevels = []int{64, 32, 16, 8, 4, 2, 1, 0}

// PackWithinBudget packs every entry, reducing resolution when the total
// would exceed budget bytes. Lower priorities are reduced fully before
// higher ones are touched. A budget <= 0 disables reduction.
func PackWithinBudget(entries []Entry, budget int) map[uint64][]byte {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make(map[uint64][]byte, len(sorted))
	total := 0
	for _, e := range sorted {
		b := e.Object.Pack()
		out[e.ID] = b
		total += len(b)
	}
	if budget <= 0 || total <= budget {
		return out
	}

	for _, p := range []Priority{PriorityIdle, PriorityMoving, PriorityHuman} {
		for _, level := range reductionLevels {
			for _, e := range sorted {
				if e.Priority != p {
					continue
				}
				b := e.Object.Downsample(level).Pack()
				total += len(b) - len(out[e.ID])
				out[e.ID] = b
			}
			if total <= budget {
				return out
			}
		}
	}
	return out
}

// TotalSize sums the packed sizes.
func TotalSize(packed map[uint64][]byte) int {
	n := 0
	for _, b := range packed {
		n += len(b)
	}
	return n
}
