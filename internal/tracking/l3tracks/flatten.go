package l3tracks

import (
	"math"

	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

// Flatten concatenates the compound track's segments, in segment order, into
// one slot sequence with a seam slot between consecutive segments. A zero
// feature reference becomes a gap slot; otherwise every channel's
// measurement is copied.
func Flatten(ct *l1input.CompoundTrack, dets l1input.Detections, movie *l1input.Movie, master int) *Track {
	n := len(ct.Segments) - 1
	for i := range ct.Segments {
		n += ct.Segments[i].Len()
	}
	first, last := ct.Bounds()

	tr := &Track{
		ID:       newTrackID(),
		Index:    ct.Index,
		NSeg:     len(ct.Segments),
		Master:   master,
		Start:    first,
		End:      last,
		Kind:     make([]SlotKind, 0, n),
		F:        make([]int, 0, n),
		T:        make([]float64, 0, n),
		Seg:      make([]int, 0, n),
		Channels: make([]Series, len(movie.Channels)),
		MaxA:     math.NaN(),
	}
	for c := range tr.Channels {
		tr.Channels[c] = newSeries(n)
	}

	for si := range ct.Segments {
		s := &ct.Segments[si]
		if si > 0 {
			tr.Kind = append(tr.Kind, SlotSeam)
			tr.F = append(tr.F, -1)
			tr.T = append(tr.T, math.NaN())
			tr.Seg = append(tr.Seg, -1)
		}
		for f := s.Start; f <= s.End(); f++ {
			slot := len(tr.Kind)
			tr.F = append(tr.F, f)
			tr.T = append(tr.T, movie.Time(f))
			tr.Seg = append(tr.Seg, s.ID)
			det, ok := dets.Lookup(f, s.FeatAt(f))
			if !ok {
				tr.Kind = append(tr.Kind, SlotGap)
				continue
			}
			tr.Kind = append(tr.Kind, SlotSample)
			for c := range tr.Channels {
				if c < len(det.Channels) {
					tr.Channels[c].set(slot, det.Channels[c])
				}
			}
		}
	}

	tr.StartTime = movie.Time(tr.Start)
	tr.EndTime = movie.Time(tr.End)
	tr.Lifetime = float64(tr.Frames()) * movie.FrameInterval
	return tr
}

func (s *Series) set(i int, m l1input.Measurement) {
	s.X[i], s.Y[i], s.A[i], s.C[i] = m.X, m.Y, m.A, m.C
	s.XStd[i], s.YStd[i], s.AStd[i], s.CStd[i] = m.XStd, m.YStd, m.AStd, m.CStd
	s.SigmaR[i], s.PVal[i] = m.SigmaR, m.PVal
	s.IsPSF[i] = m.IsPSF
}

// BorderMargin returns the rejection margin in pixels for a PSF sigma and
// margin factor.
func BorderMargin(sigma, factor float64) int {
	return int(math.Ceil(factor * sigma))
}

// RejectBorder splits tracks into those whose rounded master-position
// bounding box stays at least margin pixels from every image edge and those
// that do not. Tracks without any finite position are rejected.
func RejectBorder(tracks []*Track, width, height, margin int) (kept, rejected []*Track) {
	for _, tr := range tracks {
		if insideMargin(tr, width, height, margin) {
			kept = append(kept, tr)
		} else {
			rejected = append(rejected, tr)
		}
	}
	return kept, rejected
}

func insideMargin(tr *Track, width, height, margin int) bool {
	s := tr.MasterSeries()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range tr.Kind {
		x, y := s.X[i], s.Y[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		x, y = math.Round(x), math.Round(y)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if math.IsInf(minX, 1) {
		return false
	}
	m := float64(margin)
	return minX >= m && minY >= m && maxX < float64(width)-m && maxY < float64(height)-m
}
