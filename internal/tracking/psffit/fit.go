package psffit

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/punctatrack/internal/tracking/frames"
)

var (
	// ErrDegenerateWindow is returned when a window has too few usable
	// pixels or a singular design.
	ErrDegenerateWindow = errors.New("degenerate fit window")
	// ErrNotConverged is returned when the free-centre fit fails.
	ErrNotConverged = errors.New("fit did not converge")
)

// Mode selects the free parameters.
type Mode int

const (
	FitXYAC Mode = iota // centre, amplitude and background
	FitAC               // amplitude and background at a fixed centre
)

func (m Mode) String() string {
	if m == FitAC {
		return "Ac"
	}
	return "xyAc"
}

func (m Mode) params() int {
	if m == FitAC {
		return 2
	}
	return 4
}

// Result holds fitted parameters in window coordinates and their standard
// errors. XStd and YStd are NaN for FitAC.
type Result struct {
	X, Y, A, C             float64
	XStd, YStd, AStd, CStd float64
	// ResStd is the standard deviation of the fit residuals.
	ResStd float64
	// NPixels is the number of pixels used.
	NPixels int
	Mode    Mode
}

// Fitter holds fit limits. The zero value is not usable; use NewFitter.
type Fitter struct {
	MaxIterations int
	GradTol       float64
}

// NewFitter returns a Fitter with the default limits.
func NewFitter() *Fitter {
	return &Fitter{MaxIterations: 200, GradTol: 1e-8}
}

type pixel struct{ x, y, v float64 }

func usable(win *frames.Image) []pixel {
	px := make([]pixel, 0, len(win.Pix))
	for y := 0; y < win.Height; y++ {
		for x := 0; x < win.Width; x++ {
			if v := win.At(x, y); !math.IsNaN(v) {
				px = append(px, pixel{float64(x), float64(y), v})
			}
		}
	}
	return px
}

func gauss(px pixel, x0, y0, sigma float64) float64 {
	dx, dy := px.x-x0, px.y-y0
	return math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
}

// Fit fits the model to win starting from centre (x0, y0) in window
// coordinates.
func (f *Fitter) Fit(win *frames.Image, x0, y0, sigma float64, mode Mode) (*Result, error) {
	px := usable(win)
	if len(px) <= mode.params() {
		return nil, fmt.Errorf("%w: %d usable pixels for %s", ErrDegenerateWindow, len(px), mode)
	}
	a, c, err := linearAC(px, x0, y0, sigma)
	if err != nil {
		return nil, err
	}
	if mode == FitAC {
		return finish(px, []float64{x0, y0, a, c}, sigma, FitAC)
	}

	// A and c are fitted in units of the pixel spread; the objective is the
	// mean squared residual.
	scale := pixelScale(px)
	n := float64(len(px))
	mse := func(p []float64) float64 {
		var s float64
		for _, q := range px {
			r := p[2]*gauss(q, p[0], p[1], sigma) + p[3] - q.v/scale
			s += r * r
		}
		return s / n
	}
	grad := func(g, p []float64) {
		for i := range g {
			g[i] = 0
		}
		s2 := sigma * sigma
		for _, q := range px {
			e := gauss(q, p[0], p[1], sigma)
			r := 2 * (p[2]*e + p[3] - q.v/scale) / n
			g[0] += r * p[2] * e * (q.x - p[0]) / s2
			g[1] += r * p[2] * e * (q.y - p[1]) / s2
			g[2] += r * e
			g[3] += r
		}
	}
	start := []float64{x0, y0, a / scale, c / scale}
	f0 := mse(start)
	problem := optimize.Problem{Func: mse, Grad: grad}
	settings := &optimize.Settings{
		GradientThreshold: f.GradTol,
		MajorIterations:   f.MaxIterations,
	}
	res, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	switch {
	case err != nil && !improved(res, f0, err):
		return nil, fmt.Errorf("%w: %v", ErrNotConverged, err)
	case err != nil:
		// The line search stalls once the objective is flat to machine
		// precision; the best point found is the minimum.
	case res.Status == optimize.Failure, res.Status == optimize.IterationLimit,
		res.Status == optimize.RuntimeLimit, res.Status == optimize.FunctionEvaluationLimit,
		res.Status == optimize.GradientEvaluationLimit:
		return nil, fmt.Errorf("%w: status %v", ErrNotConverged, res.Status)
	}
	p := slices.Clone(res.X)
	p[2], p[3] = p[2]*scale, p[3]*scale
	return finish(px, p, sigma, FitXYAC)
}

// pixelScale is the standard deviation of the pixel values, or 1 for a
// flat window.
func pixelScale(px []pixel) float64 {
	v := make([]float64, len(px))
	for i, q := range px {
		v[i] = q.v
	}
	s := stat.StdDev(v, nil)
	if !(s > 0) || math.IsInf(s, 0) {
		return 1
	}
	return s
}

// improved reports whether a minimisation that stopped with a line search
// or progress error still moved to a finite point below the start value.
func improved(res *optimize.Result, f0 float64, err error) bool {
	if res == nil || !(errors.Is(err, optimize.ErrLinesearcherFailure) || errors.Is(err, optimize.ErrNoProgress)) {
		return false
	}
	if !(res.F <= f0) {
		return false
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// linearAC solves amplitude and background at a fixed centre.
func linearAC(px []pixel, x0, y0, sigma float64) (a, c float64, err error) {
	design := mat.NewDense(len(px), 2, nil)
	obs := mat.NewVecDense(len(px), nil)
	for i, q := range px {
		design.Set(i, 0, gauss(q, x0, y0, sigma))
		design.Set(i, 1, 1)
		obs.SetVec(i, q.v)
	}
	var beta mat.VecDense
	if err := beta.SolveVec(design, obs); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDegenerateWindow, err)
	}
	return beta.AtVec(0), beta.AtVec(1), nil
}

// finish computes residual statistics and parameter standard errors from
// ResStd²·(JᵀJ)⁻¹.
func finish(px []pixel, p []float64, sigma float64, mode Mode) (*Result, error) {
	n := mode.params()
	jac := mat.NewDense(len(px), n, nil)
	resid := make([]float64, len(px))
	s2 := sigma * sigma
	for i, q := range px {
		e := gauss(q, p[0], p[1], sigma)
		resid[i] = p[2]*e + p[3] - q.v
		row := []float64{e, 1}
		if mode == FitXYAC {
			row = []float64{p[2] * e * (q.x - p[0]) / s2, p[2] * e * (q.y - p[1]) / s2, e, 1}
		}
		jac.SetRow(i, row)
	}

	var jtj, inv mat.Dense
	jtj.Mul(jac.T(), jac)
	if err := inv.Inverse(&jtj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateWindow, err)
	}
	resStd := stat.StdDev(resid, nil)
	std := func(i int) float64 { return resStd * math.Sqrt(math.Abs(inv.At(i, i))) }

	r := &Result{
		X: p[0], Y: p[1], A: p[2], C: p[3],
		XStd: math.NaN(), YStd: math.NaN(),
		ResStd: resStd, NPixels: len(px), Mode: mode,
	}
	if mode == FitXYAC {
		r.XStd, r.YStd, r.AStd, r.CStd = std(0), std(1), std(2), std(3)
	} else {
		r.AStd, r.CStd = std(0), std(1)
	}
	return r, nil
}
