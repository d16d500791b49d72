package l3tracks

import (
	"math"

	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

func testMovie(nFrames int) *l1input.Movie {
	return &l1input.Movie{
		Name:          "cell01",
		NFrames:       nFrames,
		Width:         64,
		Height:        48,
		FrameInterval: 2,
		Channels:      []l1input.Channel{{Name: "egfp", FramePattern: "egfp/%04d.tif", Sigma: 1.5}},
		Source:        "egfp/%04d.tif",
	}
}

// patternTrack builds a single-channel track from a pattern of S (sample),
// G (gap) and | (seam) starting at frame start. Sample values are x = 2f,
// y = 3f, A = 100+f, c = 10.
func patternTrack(start int, pattern string) *Track {
	n := len(pattern)
	tr := &Track{
		ID:       newTrackID(),
		NSeg:     1,
		Kind:     make([]SlotKind, n),
		F:        make([]int, n),
		T:        make([]float64, n),
		Seg:      make([]int, n),
		Channels: []Series{newSeries(n)},
		MaxA:     math.NaN(),
	}
	f, seg := start, 0
	for i, r := range pattern {
		switch r {
		case '|':
			tr.Kind[i], tr.F[i], tr.T[i], tr.Seg[i] = SlotSeam, -1, math.NaN(), -1
			tr.NSeg++
			seg++
			continue
		case 'G':
			tr.Kind[i] = SlotGap
		default:
			tr.Kind[i] = SlotSample
			s := &tr.Channels[0]
			s.X[i], s.Y[i], s.A[i], s.C[i] = 2*float64(f), 3*float64(f), 100+float64(f), 10
			s.IsPSF[i] = true
		}
		tr.F[i], tr.T[i], tr.Seg[i] = f, 2*float64(f), seg
		f++
	}
	tr.Start = tr.F[0]
	tr.End = tr.F[n-1]
	tr.Lifetime = 2 * float64(tr.Frames())
	return tr
}

// stripeDetections places detection k (1-based) of every frame at
// x = 20 + 2f + 10k, y = 24.
func stripeDetections(nFrames, perFrame int) l1input.Detections {
	dets := make(l1input.Detections, nFrames)
	for f := range dets {
		dets[f].Frame = f
		for k := 1; k <= perFrame; k++ {
			dets[f].Detections = append(dets[f].Detections, l1input.Detection{
				Channels: []l1input.Measurement{{
					X: 20 + 2*float64(f) + 10*float64(k), Y: 24, A: 50 + float64(k), C: 5,
					XStd: 0.1, YStd: 0.1, AStd: 1, CStd: 0.5, SigmaR: 2, PVal: 0.001, IsPSF: k == 1,
				}},
			})
		}
	}
	return dets
}
