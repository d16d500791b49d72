package l2topology

import "github.com/banshee-data/punctatrack/internal/tracking/l1input"

// RemoveShortBranches drops merge/split branches that are linker noise: any
// single-frame segment, and any segment shorter than minLen that
//   - splits from and merges back into the same parent,
//   - merges into a parent that starts after it, or
//   - splits from a parent that ends before it.
//
// Single-segment tracks are returned as is and the longest segment always
// survives. It returns the pruned copy and the number of dropped segments.
func RemoveShortBranches(ct *l1input.CompoundTrack, minLen int) (*l1input.CompoundTrack, int) {
	out := ct.Clone()
	if len(out.Segments) < 2 {
		return out, 0
	}

	drop := make(map[int]bool)
	for i := range out.Segments {
		s := &out.Segments[i]
		if isShortBranch(out, s, minLen) {
			drop[s.ID] = true
		}
	}
	if len(drop) == len(out.Segments) {
		longest := 0
		for i := range out.Segments {
			if out.Segments[i].Len() > out.Segments[longest].Len() {
				longest = i
			}
		}
		delete(drop, longest)
	}
	if len(drop) == 0 {
		return out, 0
	}
	removeSegments(out, drop)
	return out, len(drop)
}

func isShortBranch(ct *l1input.CompoundTrack, s *l1input.Segment, minLen int) bool {
	n := s.Len()
	if n == 1 {
		return true
	}
	if n >= minLen {
		return false
	}
	if s.Splits() && s.Merges() && s.SplitFrom == s.MergeInto {
		return true
	}
	if s.Merges() {
		if p := ct.Segment(s.MergeInto); p != nil && p.Start > s.Start {
			return true
		}
	}
	if s.Splits() {
		if q := ct.Segment(s.SplitFrom); q != nil && q.End() < s.End() {
			return true
		}
	}
	return false
}
