package l6motion

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

// MaxCategory is the highest category that gets motion statistics.
const MaxCategory = 4

// Analyze computes the motion summary of one track from its master-channel
// positions, for lags 1..min(maxLag, frames-1). Pairs with a missing
// position at either end are skipped; a lag without pairs has NaN mean and
// standard deviation.
func Analyze(tr *l3tracks.Track, maxLag int) *l3tracks.MotionAnalysis {
	xs, ys := byFrame(tr)
	n := len(xs)
	lags := max(min(maxLag, n-1), 0)

	m := &l3tracks.MotionAnalysis{
		Displacement: math.NaN(),
		MSD:          make([]float64, lags),
		MSDStd:       make([]float64, lags),
		MSDPairs:     make([]int, lags),
	}
	if x0, y0, ok := tr.FirstPosition(); ok {
		x1, y1, _ := tr.LastPosition()
		m.Displacement = math.Hypot(x1-x0, y1-y0)
	}

	sq := make([]float64, 0, n)
	for lag := 1; lag <= lags; lag++ {
		sq = sq[:0]
		for i := 0; i+lag < n; i++ {
			dx, dy := xs[i+lag]-xs[i], ys[i+lag]-ys[i]
			if d := dx*dx + dy*dy; !math.IsNaN(d) {
				sq = append(sq, d)
			}
		}
		m.MSDPairs[lag-1] = len(sq)
		switch len(sq) {
		case 0:
			m.MSD[lag-1], m.MSDStd[lag-1] = math.NaN(), math.NaN()
		case 1:
			m.MSD[lag-1], m.MSDStd[lag-1] = sq[0], 0
		default:
			m.MSD[lag-1], m.MSDStd[lag-1] = stat.MeanStdDev(sq, nil)
		}
	}
	return m
}

// byFrame lays the master positions out by frame offset from Start, with
// NaN for frames without a position.
func byFrame(tr *l3tracks.Track) (xs, ys []float64) {
	n := tr.Frames()
	xs, ys = make([]float64, n), make([]float64, n)
	for i := range xs {
		xs[i], ys[i] = math.NaN(), math.NaN()
	}
	s := tr.MasterSeries()
	for i, f := range tr.F {
		if tr.Kind[i] == l3tracks.SlotSeam {
			continue
		}
		xs[f-tr.Start], ys[f-tr.Start] = s.X[i], s.Y[i]
	}
	return xs, ys
}

// Run analyses every track with category at most MaxCategory and returns
// how many were analysed.
func Run(tracks []*l3tracks.Track, maxLag int) int {
	n := 0
	for _, tr := range tracks {
		if tr.Category < 1 || tr.Category > MaxCategory {
			continue
		}
		tr.Motion = Analyze(tr, maxLag)
		n++
	}
	return n
}
