package psffit

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/punctatrack/internal/tracking/frames"
)

// spotWindow renders A·g + c on an n×n window with N(0, noise²) added.
func spotWindow(n int, x0, y0, sigma, a, c, noise float64, seed uint64) *frames.Image {
	rng := rand.New(rand.NewPCG(seed, 7))
	win := frames.NewImage(n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx, dy := float64(x)-x0, float64(y)-y0
			v := a*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)) + c + noise*rng.NormFloat64()
			win.Set(x, y, v)
		}
	}
	return win
}

func TestFitRecoversSpot(t *testing.T) {
	t.Parallel()

	const sigma = 1.5
	win := spotWindow(13, 6.3, 5.8, sigma, 200, 100, 2, 1)

	res, err := NewFitter().Fit(win, 6, 6, sigma, FitXYAC)
	require.NoError(t, err)
	assert.Equal(t, FitXYAC, res.Mode)
	assert.InDelta(t, 6.3, res.X, 0.1)
	assert.InDelta(t, 5.8, res.Y, 0.1)
	assert.InDelta(t, 200, res.A, 10)
	assert.InDelta(t, 100, res.C, 2)
	assert.InDelta(t, 2, res.ResStd, 0.6)
	assert.Equal(t, 169, res.NPixels)
	assert.Greater(t, res.AStd, 0.0)
	assert.Less(t, res.XStd, 0.1)
}

func TestFitRecoversSpotAcrossNoiseSeeds(t *testing.T) {
	t.Parallel()

	const sigma = 1.5
	fitter := NewFitter()
	for seed := uint64(1); seed <= 20; seed++ {
		win := spotWindow(13, 6.3, 5.8, sigma, 200, 100, 2, seed)
		res, err := fitter.Fit(win, 6, 6, sigma, FitXYAC)
		require.NoError(t, err, "seed %d", seed)
		assert.InDelta(t, 6.3, res.X, 0.1, "seed %d", seed)
		assert.InDelta(t, 5.8, res.Y, 0.1, "seed %d", seed)
		assert.InDelta(t, 200, res.A, 10, "seed %d", seed)
		assert.InDelta(t, 100, res.C, 2, "seed %d", seed)
	}
}

func TestFitRecoversDimSpotOnHighBackground(t *testing.T) {
	t.Parallel()

	const sigma = 1.3
	win := spotWindow(11, 4.6, 5.4, sigma, 25, 3000, 3, 11)

	res, err := NewFitter().Fit(win, 5, 5, sigma, FitXYAC)
	require.NoError(t, err)
	assert.InDelta(t, 4.6, res.X, 0.35)
	assert.InDelta(t, 5.4, res.Y, 0.35)
	assert.InDelta(t, 25, res.A, 6)
	assert.InDelta(t, 3000, res.C, 2)
}

func TestImprovedAcceptsStalledLineSearch(t *testing.T) {
	t.Parallel()

	at := func(f float64, x ...float64) *optimize.Result {
		return &optimize.Result{Location: optimize.Location{X: x, F: f}}
	}
	tests := []struct {
		name string
		res  *optimize.Result
		err  error
		want bool
	}{
		{"line search failure below start", at(0.5, 1, 2, 3, 4), optimize.ErrLinesearcherFailure, true},
		{"no progress below start", at(0.5, 1, 2, 3, 4), optimize.ErrNoProgress, true},
		{"objective went up", at(2, 1, 2, 3, 4), optimize.ErrLinesearcherFailure, false},
		{"non-finite location", at(0.5, math.NaN(), 2, 3, 4), optimize.ErrLinesearcherFailure, false},
		{"other error", at(0.5, 1, 2, 3, 4), errors.New("bad problem"), false},
		{"no result", nil, optimize.ErrLinesearcherFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, improved(tt.res, 1, tt.err))
		})
	}
}

func TestFitACAtFixedCentre(t *testing.T) {
	t.Parallel()

	const sigma = 1.2
	win := spotWindow(11, 5, 5, sigma, 80, 30, 1, 2)

	res, err := NewFitter().Fit(win, 5, 5, sigma, FitAC)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.X)
	assert.Equal(t, 5.0, res.Y)
	assert.InDelta(t, 80, res.A, 4)
	assert.InDelta(t, 30, res.C, 1)
	assert.True(t, math.IsNaN(res.XStd))
	assert.True(t, math.IsNaN(res.YStd))
	assert.Greater(t, res.CStd, 0.0)
}

func TestFitIgnoresMaskedPixels(t *testing.T) {
	t.Parallel()

	const sigma = 1.5
	win := spotWindow(13, 6, 6, sigma, 150, 50, 1, 3)
	// Mask out a corner block.
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			win.Set(x, y, math.NaN())
		}
	}
	res, err := NewFitter().Fit(win, 6, 6, sigma, FitXYAC)
	require.NoError(t, err)
	assert.Equal(t, 169-16, res.NPixels)
	assert.InDelta(t, 150, res.A, 8)
}

func TestFitDegenerateWindow(t *testing.T) {
	t.Parallel()

	win := frames.NewImage(5, 5)
	for i := range win.Pix {
		win.Pix[i] = math.NaN()
	}
	win.Set(2, 2, 10)
	win.Set(1, 2, 5)

	_, err := NewFitter().Fit(win, 2, 2, 1, FitXYAC)
	assert.ErrorIs(t, err, ErrDegenerateWindow)
	_, err = NewFitter().Fit(win, 2, 2, 1, FitAC)
	assert.ErrorIs(t, err, ErrDegenerateWindow)
}
