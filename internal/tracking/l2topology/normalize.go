package l2topology

import (
	"math"
	"sort"

	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

// RemoveSingleFrame drops compound tracks that span a single frame.
func RemoveSingleFrame(tracks []*l1input.CompoundTrack) []*l1input.CompoundTrack {
	out := tracks[:0:0]
	for _, ct := range tracks {
		first, last := ct.Bounds()
		if last > first {
			out = append(out, ct)
		}
	}
	return out
}

// Normalize fuses every segment that merges into a parent born on the
// segment's own last frame. The overlapping frame keeps whichever of the two
// samples lies nearer the straight line between the flanking samples; the
// segment's earlier samples are spliced onto the parent, which inherits the
// segment's split relation. Fusion repeats until no overlap remains, after
// which segments are renumbered by first appearance. It returns the
// normalized copy and the number of fusions; a graph without overlaps is
// returned unchanged (including its numbering).
func Normalize(ct *l1input.CompoundTrack, dets l1input.Detections, ch int) (*l1input.CompoundTrack, int) {
	out := ct.Clone()
	fused := 0
	for {
		s, p := findOverlap(out)
		if s < 0 {
			break
		}
		fuse(out, s, p, dets, ch)
		fused++
	}
	if fused > 0 {
		renumber(out)
	}
	return out, fused
}

// findOverlap returns the first (segment, parent) pair with a one-frame
// merge overlap, or (-1, -1). Parents born by splitting are left alone: their
// start frame carries a relation the fusion would erase.
func findOverlap(ct *l1input.CompoundTrack) (int, int) {
	for i := range ct.Segments {
		s := &ct.Segments[i]
		if !s.Merges() {
			continue
		}
		p := ct.Segment(s.MergeInto)
		if p == nil || p.Splits() {
			continue
		}
		if p.Start == s.End() && p.Start > s.Start {
			return s.ID, p.ID
		}
	}
	return -1, -1
}

type point struct{ x, y float64 }

func (p point) valid() bool { return !math.IsNaN(p.x) && !math.IsNaN(p.y) }

func (p point) dist(q point) float64 { return math.Hypot(p.x-q.x, p.y-q.y) }

func samplePos(seg *l1input.Segment, frame int, dets l1input.Detections, ch int) point {
	if !seg.Active(frame) {
		return point{math.NaN(), math.NaN()}
	}
	x, y := dets.Position(frame, seg.FeatAt(frame), ch)
	return point{x, y}
}

// reference returns the expected position at frame from the last sample of
// s before the overlap and the first sample of p after it. A missing bound
// shrinks the window on that side, leaving the other bound as a constant
// reference; with neither bound the reference is invalid.
func reference(lo, hi point, loFrame, hiFrame, frame int) point {
	switch {
	case lo.valid() && hi.valid():
		w := float64(frame-loFrame) / float64(hiFrame-loFrame)
		return point{lo.x + w*(hi.x-lo.x), lo.y + w*(hi.y-lo.y)}
	case lo.valid():
		return lo
	case hi.valid():
		return hi
	}
	return point{math.NaN(), math.NaN()}
}

// keepChild decides, for one overlapping frame, whether the merging
// segment's sample should replace the parent's.
func keepChild(child, parent, ref point) bool {
	switch {
	case !child.valid():
		return false
	case !parent.valid():
		return true
	case !ref.valid():
		return false
	}
	return child.dist(ref) < parent.dist(ref)
}

func fuse(ct *l1input.CompoundTrack, sID, pID int, dets l1input.Detections, ch int) {
	s := ct.Segment(sID)
	p := ct.Segment(pID)

	first, last := p.Start, s.End()
	loFrame, hiFrame := first-1, last+1
	lo := samplePos(s, loFrame, dets, ch)
	hi := samplePos(p, hiFrame, dets, ch)

	feat := make([]int, 0, p.End()-s.Start+1)
	feat = append(feat, s.Feat[:first-s.Start]...)
	for f := first; f <= last; f++ {
		ref := reference(lo, hi, loFrame, hiFrame, f)
		if keepChild(samplePos(s, f, dets, ch), samplePos(p, f, dets, ch), ref) {
			feat = append(feat, s.FeatAt(f))
		} else {
			feat = append(feat, p.FeatAt(f))
		}
	}
	feat = append(feat, p.Feat[last-p.Start+1:]...)

	p.Start = s.Start
	p.Feat = feat
	p.SplitFrom = s.SplitFrom

	for i := range ct.Segments {
		o := &ct.Segments[i]
		if o.SplitFrom == sID {
			o.SplitFrom = pID
		}
		if o.MergeInto == sID {
			o.MergeInto = pID
		}
	}
	removeSegments(ct, map[int]bool{sID: true})
}

// removeSegments deletes segments, clears references to them and compacts
// IDs while preserving order.
func removeSegments(ct *l1input.CompoundTrack, drop map[int]bool) {
	remap := make(map[int]int, len(ct.Segments))
	kept := ct.Segments[:0]
	for _, s := range ct.Segments {
		if drop[s.ID] {
			continue
		}
		remap[s.ID] = len(kept)
		kept = append(kept, s)
	}
	ct.Segments = kept
	relink(ct, remap)
}

// relink rewrites IDs and parent references through remap; references to
// segments missing from remap become free births or deaths.
func relink(ct *l1input.CompoundTrack, remap map[int]int) {
	lookup := func(id int) int {
		if id == l1input.NoParent {
			return id
		}
		if n, ok := remap[id]; ok {
			return n
		}
		return l1input.NoParent
	}
	for i := range ct.Segments {
		s := &ct.Segments[i]
		s.ID = lookup(s.ID)
		s.SplitFrom = lookup(s.SplitFrom)
		s.MergeInto = lookup(s.MergeInto)
	}
}

// renumber orders segments by first frame, stable on the current order.
func renumber(ct *l1input.CompoundTrack) {
	sort.SliceStable(ct.Segments, func(i, j int) bool {
		return ct.Segments[i].Start < ct.Segments[j].Start
	})
	remap := make(map[int]int, len(ct.Segments))
	for i, s := range ct.Segments {
		remap[s.ID] = i
	}
	relink(ct, remap)
}
