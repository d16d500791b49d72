package l1input

import (
	"errors"
	"fmt"
	"sort"
)

// NoParent marks a segment boundary that is a free birth or death rather
// than a split or merge.
const NoParent = -1

// ErrInvalidGraph is returned when a segment graph breaks an invariant.
var ErrInvalidGraph = errors.New("invalid segment graph")

// EventKind distinguishes segment births from deaths.
type EventKind int

const (
	EventStart EventKind = iota
	EventEnd
)

func (k EventKind) String() string {
	if k == EventStart {
		return "start"
	}
	return "end"
}

// Event is one row of the tracker's event table. A start event with a
// parent is a split from that parent; an end event with a parent is a merge
// into it. The end event of a merging segment sits on the merge frame, one
// past the segment's last own sample.
type Event struct {
	Frame   int
	Kind    EventKind
	Segment int
	Parent  int
}

// Segment is a contiguous single-particle run within a compound track.
// Feat holds one 1-based detection reference per own frame starting at
// Start; 0 marks a frame the tracker bridged without a detection.
type Segment struct {
	ID        int
	Start     int
	Feat      []int
	SplitFrom int
	MergeInto int
}

// End returns the segment's last own frame.
func (s *Segment) End() int { return s.Start + len(s.Feat) - 1 }

// Len returns the number of own frames.
func (s *Segment) Len() int { return len(s.Feat) }

// FeatAt returns the detection reference at frame, or 0 outside the segment.
func (s *Segment) FeatAt(frame int) int {
	if frame < s.Start || frame > s.End() {
		return 0
	}
	return s.Feat[frame-s.Start]
}

// Active reports whether frame lies within the segment's own span.
func (s *Segment) Active(frame int) bool {
	return frame >= s.Start && frame <= s.End()
}

// Splits reports whether the segment was born by splitting from a parent.
func (s *Segment) Splits() bool { return s.SplitFrom != NoParent }

// Merges reports whether the segment dies by merging into a parent.
func (s *Segment) Merges() bool { return s.MergeInto != NoParent }

// CompoundTrack is the tracker's output unit: segments linked by merge and
// split relations. Segment IDs equal their index in Segments.
type CompoundTrack struct {
	Index    int
	Segments []Segment
}

// Segment returns the segment with the given ID, or nil.
func (ct *CompoundTrack) Segment(id int) *Segment {
	if id < 0 || id >= len(ct.Segments) {
		return nil
	}
	return &ct.Segments[id]
}

// Bounds returns the first and last frame covered by any segment.
func (ct *CompoundTrack) Bounds() (first, last int) {
	for i := range ct.Segments {
		s := &ct.Segments[i]
		if i == 0 || s.Start < first {
			first = s.Start
		}
		if i == 0 || s.End() > last {
			last = s.End()
		}
	}
	return first, last
}

// Clone returns a deep copy.
func (ct *CompoundTrack) Clone() *CompoundTrack {
	out := &CompoundTrack{Index: ct.Index, Segments: make([]Segment, len(ct.Segments))}
	for i, s := range ct.Segments {
		s.Feat = append([]int(nil), s.Feat...)
		out.Segments[i] = s
	}
	return out
}

// Events derives the tracker-style event table, ordered by frame with
// starts before ends and ties broken by segment ID.
func (ct *CompoundTrack) Events() []Event {
	events := make([]Event, 0, 2*len(ct.Segments))
	for i := range ct.Segments {
		s := &ct.Segments[i]
		events = append(events, Event{Frame: s.Start, Kind: EventStart, Segment: s.ID, Parent: s.SplitFrom})
		end := s.End()
		if s.Merges() {
			end++
		}
		events = append(events, Event{Frame: end, Kind: EventEnd, Segment: s.ID, Parent: s.MergeInto})
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Segment < b.Segment
	})
	return events
}

// FromEvents builds a CompoundTrack from tracker rows. feat[s] holds segment
// s's detection references over the compound track's frame range starting
// at first; events is the positional event table.
func FromEvents(index, first int, feat [][]int, events []Event) (*CompoundTrack, error) {
	n := len(feat)
	starts := make([]*Event, n)
	ends := make([]*Event, n)
	for i := range events {
		e := &events[i]
		if e.Segment < 0 || e.Segment >= n {
			return nil, fmt.Errorf("%w: track %d event references segment %d of %d", ErrInvalidGraph, index, e.Segment, n)
		}
		slot := starts
		if e.Kind == EventEnd {
			slot = ends
		}
		if slot[e.Segment] != nil {
			return nil, fmt.Errorf("%w: track %d segment %d has duplicate %s events", ErrInvalidGraph, index, e.Segment, e.Kind)
		}
		slot[e.Segment] = e
	}

	ct := &CompoundTrack{Index: index, Segments: make([]Segment, n)}
	for s := 0; s < n; s++ {
		if starts[s] == nil || ends[s] == nil {
			return nil, fmt.Errorf("%w: track %d segment %d lacks a start or end event", ErrInvalidGraph, index, s)
		}
		start := starts[s].Frame
		end := ends[s].Frame
		if ends[s].Parent != NoParent {
			end--
		}
		lo, hi := start-first, end-first
		if lo < 0 || hi < lo || hi >= len(feat[s]) {
			return nil, fmt.Errorf("%w: track %d segment %d span [%d,%d] outside feature row", ErrInvalidGraph, index, s, start, end)
		}
		ct.Segments[s] = Segment{
			ID:        s,
			Start:     start,
			Feat:      append([]int(nil), feat[s][lo:hi+1]...),
			SplitFrom: starts[s].Parent,
			MergeInto: ends[s].Parent,
		}
	}
	if err := ct.Validate(); err != nil {
		return nil, err
	}
	return ct, nil
}

// Validate checks the graph invariants: IDs match positions, segments are
// non-empty, and every split or merge references another existing segment
// that is active at the event frame.
func (ct *CompoundTrack) Validate() error {
	if len(ct.Segments) == 0 {
		return fmt.Errorf("%w: track %d has no segments", ErrInvalidGraph, ct.Index)
	}
	for i := range ct.Segments {
		s := &ct.Segments[i]
		if s.ID != i {
			return fmt.Errorf("%w: track %d segment at %d has ID %d", ErrInvalidGraph, ct.Index, i, s.ID)
		}
		if len(s.Feat) == 0 {
			return fmt.Errorf("%w: track %d segment %d is empty", ErrInvalidGraph, ct.Index, i)
		}
		if s.Splits() {
			p := ct.Segment(s.SplitFrom)
			if p == nil || p.ID == s.ID {
				return fmt.Errorf("%w: track %d segment %d splits from unknown segment %d", ErrInvalidGraph, ct.Index, i, s.SplitFrom)
			}
			if !p.Active(s.Start - 1) {
				return fmt.Errorf("%w: track %d segment %d splits at %d from inactive segment %d", ErrInvalidGraph, ct.Index, i, s.Start, p.ID)
			}
		}
		if s.Merges() {
			p := ct.Segment(s.MergeInto)
			if p == nil || p.ID == s.ID {
				return fmt.Errorf("%w: track %d segment %d merges into unknown segment %d", ErrInvalidGraph, ct.Index, i, s.MergeInto)
			}
			if !p.Active(s.End() + 1) {
				return fmt.Errorf("%w: track %d segment %d merges at %d into inactive segment %d", ErrInvalidGraph, ct.Index, i, s.End()+1, p.ID)
			}
		}
	}
	return nil
}
