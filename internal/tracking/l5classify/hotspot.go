package l5classify

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

// ruleHotspotSplit looks for category-1 tracks that are really two
// molecules visiting the same spot: a gap whose amplitude is significantly
// below background at every frame, with the positions before and after it
// forming separated clusters. Such tracks are replaced by their pieces.
func ruleHotspotSplit(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	out := make([]*l3tracks.Track, 0, len(tracks))
	for _, tr := range tracks {
		if tr.Category != CategoryValid || len(tr.Gaps) == 0 || tr.Frames() <= ctx.HotspotMinLength {
			out = append(out, tr)
			continue
		}
		var cuts []l3tracks.Gap
		for gi, g := range tr.Gaps {
			if belowBackground(tr, g, ctx.Alpha) && separated(tr, gi) {
				cuts = append(cuts, g)
			}
		}
		if len(cuts) == 0 {
			out = append(out, tr)
			continue
		}
		children := tr.SplitAt(cuts)
		for _, c := range children {
			c.MaxA = c.MaxAmplitude()
		}
		ctx.SplitParents++
		ctx.logf("classify: split track %s at %d gaps into %d tracks", tr.ID, len(cuts), len(children))
		out = append(out, children...)
	}
	return out
}

// belowBackground reports whether every gap frame's master amplitude is
// significantly below the background level (lower-tail p < alpha).
func belowBackground(tr *l3tracks.Track, g l3tracks.Gap, alpha float64) bool {
	pv := tr.MasterSeries().PVal
	for i := g.First; i <= g.Last; i++ {
		if math.IsNaN(pv[i]) || !(1-pv[i] < alpha) {
			return false
		}
	}
	return true
}

// separated projects the detected positions of the runs before and after
// gap gi onto the axis joining their means and checks that the 95th
// percentile of one side lies below the 5th percentile of the other. A run
// bounded by neighbouring gaps stops there; fewer than two positions on a
// side, or coincident means, count as not separated.
func separated(tr *l3tracks.Track, gi int) bool {
	g := tr.Gaps[gi]
	lo, hi := 0, tr.Len()-1
	if gi > 0 {
		lo = tr.Gaps[gi-1].Last + 1
	}
	if gi+1 < len(tr.Gaps) {
		hi = tr.Gaps[gi+1].First - 1
	}
	bx, by := positions(tr, lo, g.First-1)
	ax, ay := positions(tr, g.Last+1, hi)
	if len(bx) < 2 || len(ax) < 2 {
		return false
	}

	mbx, mby := stat.Mean(bx, nil), stat.Mean(by, nil)
	ux, uy := stat.Mean(ax, nil)-mbx, stat.Mean(ay, nil)-mby
	norm := math.Hypot(ux, uy)
	if norm == 0 {
		return false
	}
	ux, uy = ux/norm, uy/norm
	project := func(xs, ys []float64) []float64 {
		p := make([]float64, len(xs))
		for i := range xs {
			p[i] = (xs[i]-mbx)*ux + (ys[i]-mby)*uy
		}
		return p
	}
	before, after := project(bx, by), project(ax, ay)
	return percentile(before, 95) < percentile(after, 5) ||
		percentile(after, 95) < percentile(before, 5)
}

func positions(tr *l3tracks.Track, lo, hi int) (xs, ys []float64) {
	s := tr.MasterSeries()
	for i := lo; i <= hi; i++ {
		if tr.Kind[i] != l3tracks.SlotSample || math.IsNaN(s.X[i]) || math.IsNaN(s.Y[i]) {
			continue
		}
		xs = append(xs, s.X[i])
		ys = append(ys, s.Y[i])
	}
	return xs, ys
}
