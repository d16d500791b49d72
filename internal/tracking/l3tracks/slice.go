package l3tracks

import "math"

// Slice returns a new track covering slots lo..hi of tr, with a fresh ID and
// tr recorded as its parent. Seams at either end are trimmed; gaps are
// re-derived. Buffers are not carried over.
func (t *Track) Slice(lo, hi int) *Track {
	for lo <= hi && t.Kind[lo] == SlotSeam {
		lo++
	}
	for hi >= lo && t.Kind[hi] == SlotSeam {
		hi--
	}
	if lo > hi {
		return nil
	}

	dt := 0.0
	if t.Frames() > 0 {
		dt = t.Lifetime / float64(t.Frames())
	}
	child := &Track{
		ID:          newTrackID(),
		Index:       t.Index,
		Master:      t.Master,
		Start:       t.F[lo],
		End:         t.F[hi],
		Kind:        append([]SlotKind(nil), t.Kind[lo:hi+1]...),
		F:           append([]int(nil), t.F[lo:hi+1]...),
		T:           append([]float64(nil), t.T[lo:hi+1]...),
		Seg:         append([]int(nil), t.Seg[lo:hi+1]...),
		Channels:    make([]Series, len(t.Channels)),
		Visibility:  t.Visibility,
		Category:    t.Category,
		Transitions: append([]Transition(nil), t.Transitions...),
		IsCCP:       t.IsCCP,
		MaxA:        math.NaN(),
		Parent:      t.ID,
	}
	for c := range t.Channels {
		child.Channels[c] = t.Channels[c].slice(lo, hi)
	}
	child.NSeg = child.count(SlotSeam) + 1
	child.StartTime = child.T[0]
	child.EndTime = child.T[len(child.T)-1]
	child.Lifetime = float64(child.Frames()) * dt
	ClassifyGaps(child)
	return child
}

// SplitAt cuts the track at the given gaps, dropping the gap slots. The
// first child keeps the start buffer and the last the end buffer. Children
// are returned in time order; an empty cut list returns nil.
func (t *Track) SplitAt(cuts []Gap) []*Track {
	if len(cuts) == 0 {
		return nil
	}
	var children []*Track
	lo := 0
	for _, g := range cuts {
		if c := t.Slice(lo, g.First-1); c != nil {
			children = append(children, c)
		}
		lo = g.Last + 1
	}
	if c := t.Slice(lo, t.Len()-1); c != nil {
		children = append(children, c)
	}
	if len(children) > 0 {
		children[0].StartBuffer = t.StartBuffer
		children[len(children)-1].EndBuffer = t.EndBuffer
	}
	return children
}
