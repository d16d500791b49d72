package l3tracks

// ClassifyGaps finds the maximal runs of gap slots and grades each one. A
// gap is valid when it is a single frame, or when the detected-sample runs
// flanking it on both sides (within its segment) are longer than one frame.
func ClassifyGaps(tr *Track) []Gap {
	tr.Gaps = tr.Gaps[:0]
	n := len(tr.Kind)
	for i := 0; i < n; {
		if tr.Kind[i] != SlotGap {
			i++
			continue
		}
		first := i
		for i < n && tr.Kind[i] == SlotGap {
			i++
		}
		g := Gap{First: first, Last: i - 1, Status: GapInvalid}
		if g.Len() == 1 || (tr.sampleRun(first-1, -1) > 1 && tr.sampleRun(i, 1) > 1) {
			g.Status = GapValid
		}
		tr.Gaps = append(tr.Gaps, g)
	}
	return tr.Gaps
}

// sampleRun counts consecutive sample slots starting at slot i and moving
// by step. Seams and track edges end the run.
func (t *Track) sampleRun(i, step int) int {
	n := 0
	for ; i >= 0 && i < len(t.Kind) && t.Kind[i] == SlotSample; i += step {
		n++
	}
	return n
}

// Interpolate fills every valid gap bounded by samples on both sides with
// values on the straight line between those samples, for x, y, A and c of
// every channel. Gaps at a track or segment edge stay NaN.
func Interpolate(tr *Track) {
	for _, g := range tr.Gaps {
		if g.Status != GapValid {
			continue
		}
		lo, hi := g.First-1, g.Last+1
		if lo < 0 || hi >= len(tr.Kind) || tr.Kind[lo] != SlotSample || tr.Kind[hi] != SlotSample {
			continue
		}
		for c := range tr.Channels {
			s := &tr.Channels[c]
			for _, v := range [][]float64{s.X, s.Y, s.A, s.C} {
				lerp(v, lo, hi)
			}
		}
	}
}

func lerp(v []float64, lo, hi int) {
	span := float64(hi - lo)
	for i := lo + 1; i < hi; i++ {
		w := float64(i-lo) / span
		v[i] = v[lo] + w*(v[hi]-v[lo])
	}
}
