package l5classify

import (
	"math"
	"slices"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/psffit"
)

// Context carries movie facts and thresholds shared by the rules, and
// collects what they report.
type Context struct {
	FrameInterval float64 // seconds
	NFrames       int

	Alpha                    float64
	KLevel                   float64
	ForceDiffractionLimited  bool
	CohortBounds             []float64 // seconds
	RescuePercentile         float64   // percent
	HotspotMinLength         int
	GapDensityLimit          float64
	DisplacementOutlierCount int
	DisplacementPercentile   float64 // percent

	Logf func(format string, v ...any)

	// Filled by the rules.
	LifetimeHistBefore []int
	LifetimeHistAfter  []int
	Rescued            int
	SplitParents       int
}

// ContextFromTuning builds a Context for one movie.
func ContextFromTuning(cfg *config.TuningConfig, movie *l1input.Movie) *Context {
	return &Context{
		FrameInterval:            movie.FrameInterval,
		NFrames:                  movie.NFrames,
		Alpha:                    cfg.GetAlpha(),
		KLevel:                   psffit.KLevel(cfg.GetAlpha()),
		ForceDiffractionLimited:  cfg.GetForceDiffractionLimited(),
		CohortBounds:             cfg.GetCohortBoundsSecs(),
		RescuePercentile:         cfg.GetRescuePercentile(),
		HotspotMinLength:         cfg.GetHotspotMinLength(),
		GapDensityLimit:          cfg.GetGapDensityLimit(),
		DisplacementOutlierCount: cfg.GetDisplacementOutlierCount(),
		DisplacementPercentile:   cfg.GetDisplacementPercentile(),
		Logf:                     monitoring.Logf,
	}
}

func (c *Context) logf(format string, v ...any) {
	if c.Logf != nil {
		c.Logf(format, v...)
	}
}

// Rule is one classification pass. Rules may replace tracks (splitting)
// and return the resulting collection.
type Rule struct {
	Name  string
	Apply func(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track
}

// Rules returns the classification passes in application order.
func Rules() []Rule {
	return []Rule{
		{"initial", ruleInitial},
		{"diffraction_limited", ruleDiffractionLimited},
		{"rescue", ruleRescue},
		{"buffer_background", ruleBufferBackground},
		{"hotspot_split", ruleHotspotSplit},
		{"gap_density", ruleGapDensity},
		{"displacement_outliers", ruleDisplacementOutliers},
	}
}

// Classify runs every rule in order.
func Classify(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	for _, r := range Rules() {
		tracks = r.Apply(tracks, ctx)
	}
	return tracks
}

// mustApply performs a transition whose guard the caller has checked.
func mustApply(tr *l3tracks.Track, name string) {
	if err := Apply(tr, name); err != nil {
		panic(err)
	}
}

func ruleInitial(tracks []*l3tracks.Track, _ *Context) []*l3tracks.Track {
	for _, tr := range tracks {
		tr.Category = 0
		tr.Transitions = tr.Transitions[:0]
		tr.SetCategory("initial", InitialCategory(tr))
	}
	return tracks
}

// ruleDiffractionLimited marks CCPs (every detected sample passed the
// residual normality test) and, when forced, demotes the rest from 1 to 2.
func ruleDiffractionLimited(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	demoted := 0
	for _, tr := range tracks {
		tr.MaxA = tr.MaxAmplitude()
		tr.IsCCP = isCCP(tr)
		if ctx.ForceDiffractionLimited && !tr.IsCCP && tr.Category == CategoryValid {
			mustApply(tr, NotDiffractionLimited)
			demoted++
		}
	}
	ctx.logf("classify: %d tracks not diffraction-limited", demoted)
	return tracks
}

func isCCP(tr *l3tracks.Track) bool {
	psf := tr.MasterSeries().IsPSF
	n := 0
	for i, k := range tr.Kind {
		if k != l3tracks.SlotSample {
			continue
		}
		if !psf[i] {
			return false
		}
		n++
	}
	return n > 0
}

// CohortEdges returns lifetime cohort edges in seconds: 2Δt, every bound
// strictly between 2Δt and the movie duration, and the duration.
func CohortEdges(bounds []float64, dt float64, nFrames int) []float64 {
	lo, hi := 2*dt, float64(nFrames)*dt
	edges := []float64{lo}
	for _, b := range bounds {
		if b > lo && b < hi {
			edges = append(edges, b)
		}
	}
	return append(edges, hi)
}

// cohortOf returns the cohort index for a lifetime, or -1 outside the edges.
func cohortOf(edges []float64, lifetime float64) int {
	last := len(edges) - 1
	if lifetime < edges[0] || lifetime > edges[last] {
		return -1
	}
	for i := 0; i < last; i++ {
		if lifetime < edges[i+1] {
			return i
		}
	}
	return last - 1
}

// LifetimeHistogram counts category-1 tracks by lifetime in frames; bin k
// holds tracks lasting k frames.
func LifetimeHistogram(tracks []*l3tracks.Track, nFrames int) []int {
	h := make([]int, nFrames+1)
	for _, tr := range tracks {
		if tr.Category == CategoryValid {
			if n := tr.Frames(); n >= 0 && n <= nFrames {
				h[n]++
			}
		}
	}
	return h
}

// ruleRescue promotes category-2 single-segment tracks longer than four
// frames whose maximum amplitude reaches the low percentile of category-1
// maxima in the same lifetime cohort.
func ruleRescue(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	ctx.LifetimeHistBefore = LifetimeHistogram(tracks, ctx.NFrames)

	edges := CohortEdges(ctx.CohortBounds, ctx.FrameInterval, ctx.NFrames)
	maxima := make([][]float64, len(edges)-1)
	for _, tr := range tracks {
		if tr.Category != CategoryValid || math.IsNaN(tr.MaxA) {
			continue
		}
		if c := cohortOf(edges, tr.Lifetime); c >= 0 {
			maxima[c] = append(maxima[c], tr.MaxA)
		}
	}
	thresholds := make([]float64, len(maxima))
	for c, m := range maxima {
		thresholds[c] = percentile(m, ctx.RescuePercentile)
	}

	for _, tr := range tracks {
		if tr.Category != CategoryInvalid || tr.NSeg != 1 || tr.Frames() <= 4 {
			continue
		}
		if ctx.ForceDiffractionLimited && !tr.IsCCP {
			continue
		}
		c := cohortOf(edges, tr.Lifetime)
		if c < 0 || math.IsNaN(thresholds[c]) || !(tr.MaxA >= thresholds[c]) {
			continue
		}
		mustApply(tr, Rescue)
		ctx.Rescued++
	}

	ctx.LifetimeHistAfter = LifetimeHistogram(tracks, ctx.NFrames)
	ctx.logf("classify: rescued %d tracks over %d cohorts", ctx.Rescued, len(maxima))
	return tracks
}

// ruleBufferBackground demotes category-1 tracks whose buffers do not show
// background: each buffer needs two consecutive frames with p >= alpha, and
// no buffer amplitude may exceed the track's maximum. Tracks without any
// buffer are left alone.
func ruleBufferBackground(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	demoted := 0
	for _, tr := range tracks {
		if tr.Category != CategoryValid || (tr.StartBuffer == nil && tr.EndBuffer == nil) {
			continue
		}
		ok := true
		maxBuf := math.Inf(-1)
		for _, b := range []*l3tracks.Buffer{tr.StartBuffer, tr.EndBuffer} {
			if b == nil {
				continue
			}
			bs := &b.Channels[tr.Master]
			if !hasBackgroundRun(bs.PVal, ctx.Alpha, 2) {
				ok = false
			}
			for _, a := range bs.A {
				if !math.IsNaN(a) {
					maxBuf = math.Max(maxBuf, a)
				}
			}
		}
		if !ok || maxBuf > tr.MaxA {
			mustApply(tr, BufferSignal)
			demoted++
		}
	}
	ctx.logf("classify: %d tracks with signal in buffers", demoted)
	return tracks
}

func hasBackgroundRun(pval []float64, alpha float64, n int) bool {
	run := 0
	for _, p := range pval {
		if p >= alpha {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// ruleGapDensity demotes category-1 tracks that are at least half gaps.
func ruleGapDensity(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	for _, tr := range tracks {
		if tr.Category == CategoryValid && tr.GapFraction() >= ctx.GapDensityLimit {
			mustApply(tr, GapDensity)
		}
	}
	return tracks
}

// FrameDisplacements returns distances between consecutive non-seam slots
// with finite master positions.
func FrameDisplacements(tr *l3tracks.Track) []float64 {
	s := tr.MasterSeries()
	var out []float64
	for i := 1; i < tr.Len(); i++ {
		if tr.Kind[i] == l3tracks.SlotSeam || tr.Kind[i-1] == l3tracks.SlotSeam {
			continue
		}
		d := math.Hypot(s.X[i]-s.X[i-1], s.Y[i]-s.Y[i-1])
		if !math.IsNaN(d) {
			out = append(out, d)
		}
	}
	return out
}

// ruleDisplacementOutliers demotes category-1 tracks with more than the
// allowed number of frame-to-frame steps above the high percentile of
// per-track median steps. The median population spans every track that
// has a step, whatever its category.
func ruleDisplacementOutliers(tracks []*l3tracks.Track, ctx *Context) []*l3tracks.Track {
	steps := make(map[*l3tracks.Track][]float64)
	var medians []float64
	for _, tr := range tracks {
		d := FrameDisplacements(tr)
		if len(d) == 0 {
			continue
		}
		medians = append(medians, median(d))
		if tr.Category == CategoryValid {
			steps[tr] = d
		}
	}
	threshold := percentile(medians, ctx.DisplacementPercentile)
	if math.IsNaN(threshold) {
		return tracks
	}

	demoted := 0
	for _, tr := range tracks {
		d, ok := steps[tr]
		if !ok {
			continue
		}
		n := 0
		for _, v := range d {
			if v > threshold {
				n++
			}
		}
		if n > ctx.DisplacementOutlierCount {
			mustApply(tr, DisplacementOutlier)
			demoted++
		}
	}
	ctx.logf("classify: displacement threshold %.3f px, %d outlier tracks", threshold, demoted)
	return tracks
}

// percentile returns the p-th percentile (0-100) of values, or NaN for an
// empty slice. The i-th smallest of n values sits at 100*(i-0.5)/n; p
// between two such points interpolates linearly and p outside them clamps
// to the extreme value.
func percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 || math.IsNaN(p) {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	pos := p/100*float64(n) - 0.5
	switch {
	case pos <= 0:
		return sorted[0]
	case pos >= float64(n-1):
		return sorted[n-1]
	}
	i := int(pos)
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

// median is the middle value, or the mean of the two middle values for an
// even count.
func median(values []float64) float64 {
	return percentile(values, 50)
}

// AssignInitial sets the initial categories only, for runs without
// post-processing.
func AssignInitial(tracks []*l3tracks.Track) {
	ruleInitial(tracks, nil)
}
