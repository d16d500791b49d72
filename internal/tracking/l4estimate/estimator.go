package l4estimate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/tracking/frames"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/psffit"
)

// Config holds estimator parameters.
type Config struct {
	// Sigma is the nominal PSF sigma per channel, in pixels.
	Sigma []float64
	// WindowFactor times sigma, rounded up, is the fit window half-width.
	WindowFactor float64
	// MaxShiftFactor times sigma bounds how far a free-centre fit may move.
	MaxShiftFactor float64
	// CutoffFrames is the minimum track length for slave-channel estimates.
	CutoffFrames int
	// KLevel is the noise threshold in residual standard deviations.
	KLevel float64
}

// ConfigFromTuning builds a Config for a movie's channel sigmas.
func ConfigFromTuning(cfg *config.TuningConfig, sigmas []float64) Config {
	return Config{
		Sigma:          append([]float64(nil), sigmas...),
		WindowFactor:   cfg.GetBorderSigmaFactor(),
		MaxShiftFactor: cfg.GetFitRadiusSigmaFactor(),
		CutoffFrames:   cfg.GetCutoffFrames(),
		KLevel:         psffit.KLevel(cfg.GetAlpha()),
	}
}

// Estimate is one re-estimated measurement in image coordinates.
type Estimate struct {
	X, Y, A, C   float64
	AStd, CStd   float64
	SigmaR, PVal float64
	// Fallback is set when the free-centre fit was rejected and the
	// estimate comes from the fixed-centre fit.
	Fallback bool
}

// Stats summarises one estimation pass.
type Stats struct {
	Frames    int
	Estimates int
	Fallbacks int
	Skipped   int
}

// Estimator re-estimates signal at given positions.
type Estimator struct {
	cfg    Config
	fitter *psffit.Fitter
	logf   func(format string, v ...any)
}

// New returns an Estimator. logf may be nil, in which case monitoring.Logf
// is used.
func New(cfg Config, logf func(format string, v ...any)) *Estimator {
	if logf == nil {
		logf = monitoring.Logf
	}
	return &Estimator{cfg: cfg, fitter: psffit.NewFitter(), logf: logf}
}

// At fits a window of channel ch at frame around image position (x, y).
// Pixels belonging to a mask component other than the centre pixel's are
// excluded. A free-centre fit is accepted when its centre stays within
// MaxShiftFactor·sigma of the start; otherwise amplitude and background are
// refitted at (x, y).
func (e *Estimator) At(cache *frames.Cache, ch, frame int, x, y float64) (Estimate, error) {
	sigma := e.cfg.Sigma[ch]
	r := int(math.Ceil(e.cfg.WindowFactor * sigma))
	xi, yi := int(math.Round(x)), int(math.Round(y))

	img, err := cache.Frame(ch, frame)
	if err != nil {
		return Estimate{}, err
	}
	win, err := img.Window(xi, yi, r)
	if err != nil {
		return Estimate{}, err
	}
	labels, err := cache.Labels(frame)
	if err != nil {
		return Estimate{}, err
	}
	if labels != nil {
		if err := excludeForeign(win, labels, xi, yi, r); err != nil {
			return Estimate{}, err
		}
	}

	x0, y0 := float64(r)+x-float64(xi), float64(r)+y-float64(yi)
	res, err := e.fitter.Fit(win, x0, y0, sigma, psffit.FitXYAC)
	fallback := err != nil || math.Hypot(res.X-x0, res.Y-y0) >= e.cfg.MaxShiftFactor*sigma
	if fallback {
		res, err = e.fitter.Fit(win, x0, y0, sigma, psffit.FitAC)
		if err != nil {
			return Estimate{}, err
		}
	}

	p, _ := psffit.Significance(res.A, res.AStd, res.ResStd, res.NPixels, e.cfg.KLevel)
	return Estimate{
		X:        float64(xi-r) + res.X,
		Y:        float64(yi-r) + res.Y,
		A:        res.A,
		C:        res.C,
		AStd:     res.AStd,
		CStd:     res.CStd,
		SigmaR:   res.ResStd,
		PVal:     p,
		Fallback: fallback,
	}, nil
}

// excludeForeign sets window pixels to NaN where the mask carries a
// component label different from the centre pixel's.
func excludeForeign(win, labels *frames.Image, xi, yi, r int) error {
	lwin, err := labels.Window(xi, yi, r)
	if err != nil {
		return err
	}
	centre := lwin.At(r, r)
	for i, l := range lwin.Pix {
		if l != 0 && l != centre {
			win.Pix[i] = math.NaN()
		}
	}
	return nil
}

type target uint8

const (
	targetGap target = iota
	targetStartBuffer
	targetEndBuffer
)

type workItem struct {
	track    *l3tracks.Track
	target   target
	index    int // slot for gaps, buffer position for buffers
	x, y     float64
	channels []int // channels to estimate, always including the master
}

// Run estimates every valid gap frame and buffer frame of tracks, writing
// results in place. Frames are visited in increasing order and each frame's
// channels in turn through cache. Fits that cannot be made (window off the
// image, too few pixels) leave NaN; frame read errors abort the pass.
func (e *Estimator) Run(ctx context.Context, tracks []*l3tracks.Track, cache *frames.Cache) (Stats, error) {
	byFrame := e.gather(tracks)
	order := make([]int, 0, len(byFrame))
	for f := range byFrame {
		order = append(order, f)
	}
	sort.Ints(order)

	var st Stats
	for _, f := range order {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Frames++
		items := byFrame[f]
		for ch := range e.cfg.Sigma {
			for _, it := range items {
				if !slices.Contains(it.channels, ch) {
					continue
				}
				est, err := e.At(cache, ch, f, it.x, it.y)
				switch {
				case errors.Is(err, frames.ErrWindowOutOfBounds),
					errors.Is(err, psffit.ErrDegenerateWindow):
					st.Skipped++
					continue
				case err != nil:
					return st, fmt.Errorf("estimate frame %d channel %d: %w", f, ch, err)
				}
				st.Estimates++
				if est.Fallback {
					st.Fallbacks++
				}
				it.store(ch, est)
			}
		}
	}
	e.logf("estimate: %d frames, %d estimates, %d fixed-centre fallbacks, %d skipped", st.Frames, st.Estimates, st.Fallbacks, st.Skipped)
	return st, nil
}

func (e *Estimator) gather(tracks []*l3tracks.Track) map[int][]workItem {
	byFrame := make(map[int][]workItem)
	add := func(f int, it workItem) { byFrame[f] = append(byFrame[f], it) }

	for _, tr := range tracks {
		chans := e.channels(tr)
		master := tr.MasterSeries()
		for _, g := range tr.Gaps {
			if g.Status != l3tracks.GapValid {
				continue
			}
			for s := g.First; s <= g.Last; s++ {
				x, y := master.X[s], master.Y[s]
				if math.IsNaN(x) || math.IsNaN(y) {
					continue
				}
				add(tr.F[s], workItem{track: tr, target: targetGap, index: s, x: x, y: y, channels: chans})
			}
		}
		if b := tr.StartBuffer; b != nil {
			if x, y, ok := tr.FirstPosition(); ok {
				for i, f := range b.F {
					add(f, workItem{track: tr, target: targetStartBuffer, index: i, x: x, y: y, channels: chans})
				}
			}
		}
		if b := tr.EndBuffer; b != nil {
			if x, y, ok := tr.LastPosition(); ok {
				for i, f := range b.F {
					add(f, workItem{track: tr, target: targetEndBuffer, index: i, x: x, y: y, channels: chans})
				}
			}
		}
	}
	return byFrame
}

// channels lists what gets estimated for tr: every channel once the track
// reaches the cutoff length, otherwise its master channel alone.
func (e *Estimator) channels(tr *l3tracks.Track) []int {
	n := min(len(e.cfg.Sigma), len(tr.Channels))
	if tr.Frames() < e.cfg.CutoffFrames {
		if tr.Master < n {
			return []int{tr.Master}
		}
		return nil
	}
	chans := make([]int, n)
	for i := range chans {
		chans[i] = i
	}
	return chans
}

func (it workItem) store(ch int, est Estimate) {
	switch it.target {
	case targetGap:
		s := &it.track.Channels[ch]
		i := it.index
		s.X[i], s.Y[i], s.A[i], s.C[i] = est.X, est.Y, est.A, est.C
		s.AStd[i], s.CStd[i], s.SigmaR[i], s.PVal[i] = est.AStd, est.CStd, est.SigmaR, est.PVal
	case targetStartBuffer:
		storeBuffer(&it.track.StartBuffer.Channels[ch], it.index, est)
	case targetEndBuffer:
		storeBuffer(&it.track.EndBuffer.Channels[ch], it.index, est)
	}
}

func storeBuffer(b *l3tracks.BufferSeries, i int, est Estimate) {
	b.X[i], b.Y[i], b.A[i], b.C[i] = est.X, est.Y, est.A, est.C
	b.AStd[i], b.CStd[i], b.SigmaR[i], b.PVal[i] = est.AStd, est.CStd, est.SigmaR, est.PVal
}
