// Package ports implements the port allocator of spec §4.10: given the
// set of port ranges already in use, find the next free contiguous
// range of a requested size.
//
// No dedicated source file for this algorithm was retrieved from the
// original Rust implementation (see DESIGN.md) — it is built directly
// from spec §4.10's description and the worked example in spec §8
// scenario 4.
package ports

import (
	"sort"

	"github.com/kildhq/kild/internal/kilderr"
)

const maxPort = 65535 // u16::MAX

// Range is an inclusive [Start, End] contiguous port range.
type Range struct {
	Start int
	End   int
}

// Allocate finds the next free contiguous range of size k, starting no
// earlier than basePort, that does not overlap any range in existing.
// existing need not be sorted.
func Allocate(existing []Range, k int, basePort int) (Range, error) {
	if k <= 0 {
		return Range{}, kilderr.InvalidPortCount(k)
	}

	sorted := make([]Range, len(existing))
	copy(sorted, existing)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	current := basePort
	for _, r := range sorted {
		if r.Start < current {
			// Existing range starts before our cursor; it may still
			// extend past it, so only fast-forward if it does.
			if r.End >= current {
				current = r.End + 1
			}
			continue
		}
		end := current + k - 1
		if end > maxPort {
			return Range{}, kilderr.PortRangeExhausted()
		}
		if end < r.Start {
			return Range{Start: current, End: end}, nil
		}
		current = r.End + 1
	}

	// Tail allocation after the last range (or from basePort if none).
	end := current + k - 1
	if end > maxPort || current > maxPort {
		return Range{}, kilderr.PortRangeExhausted()
	}
	return Range{Start: current, End: end}, nil
}
