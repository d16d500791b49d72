package l5classify

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

const testDt = 2.0

func nans(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

var trackSeq atomic.Int64

// track builds a complete single-channel track from a pattern of S (sample),
// G (gap) and | (seam). Samples sit at x = 10 + f/2, y = 20 with amplitude
// a; every sample passes the PSF test.
func track(start int, pattern string, a float64) *l3tracks.Track {
	n := len(pattern)
	tr := &l3tracks.Track{
		ID:         fmt.Sprintf("trk_test_%d", trackSeq.Add(1)),
		NSeg:       1,
		Kind:       make([]l3tracks.SlotKind, n),
		F:          make([]int, n),
		T:          make([]float64, n),
		Seg:        make([]int, n),
		Visibility: l3tracks.VisibilityComplete,
		MaxA:       math.NaN(),
		Channels: []l3tracks.Series{{
			X: nans(n), Y: nans(n), A: nans(n), C: nans(n),
			XStd: nans(n), YStd: nans(n), AStd: nans(n), CStd: nans(n),
			SigmaR: nans(n), PVal: nans(n), IsPSF: make([]bool, n),
		}},
	}
	s := &tr.Channels[0]
	f := start
	for i, r := range pattern {
		switch r {
		case '|':
			tr.Kind[i], tr.F[i], tr.T[i], tr.Seg[i] = l3tracks.SlotSeam, -1, math.NaN(), -1
			tr.NSeg++
			continue
		case 'G':
			tr.Kind[i] = l3tracks.SlotGap
		default:
			tr.Kind[i] = l3tracks.SlotSample
			s.X[i], s.Y[i], s.A[i], s.C[i] = 10+float64(f)/2, 20, a, 100
			s.IsPSF[i] = true
		}
		tr.F[i], tr.T[i] = f, testDt*float64(f)
		f++
	}
	tr.Start, tr.End = tr.F[0], tr.F[n-1]
	tr.Lifetime = testDt * float64(tr.Frames())
	l3tracks.ClassifyGaps(tr)
	return tr
}

func samples(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'S'
	}
	return string(b)
}

// stepTrack builds a category-1 track whose consecutive positions differ
// by the given steps along x.
func stepTrack(steps []float64) *l3tracks.Track {
	tr := track(1, samples(len(steps)+1), 100)
	x := 10.0
	s := tr.MasterSeries()
	for i := range steps {
		s.X[i] = x
		x += steps[i]
	}
	s.X[len(steps)] = x
	tr.Category = CategoryValid
	return tr
}

func testContext() *Context {
	return &Context{
		FrameInterval:            testDt,
		NFrames:                  50,
		Alpha:                    0.05,
		KLevel:                   1.96,
		ForceDiffractionLimited:  true,
		CohortBounds:             []float64{10, 20, 40, 60, 80, 100, 125, 150},
		RescuePercentile:         2.5,
		HotspotMinLength:         5,
		GapDensityLimit:          0.5,
		DisplacementOutlierCount: 4,
		DisplacementPercentile:   95,
	}
}
