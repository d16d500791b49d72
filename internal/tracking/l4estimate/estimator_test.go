package l4estimate

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/testutil"
	"github.com/banshee-data/punctatrack/internal/tracking/frames"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/psffit"
)

func quiet(string, ...any) {}

func testConfig(nch int) Config {
	sig := make([]float64, nch)
	for i := range sig {
		sig[i] = 1.5
	}
	return Config{Sigma: sig, WindowFactor: 4, MaxShiftFactor: 2, CutoffFrames: 3, KLevel: psffit.KLevel(0.05)}
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromTuning(config.MustLoadDefaultConfig(), []float64{1.2, 1.4})
	assert.Equal(t, []float64{1.2, 1.4}, cfg.Sigma)
	assert.Equal(t, 4.0, cfg.WindowFactor)
	assert.Equal(t, 2.0, cfg.MaxShiftFactor)
	assert.Equal(t, 3, cfg.CutoffFrames)
	assert.InDelta(t, 1.96, cfg.KLevel, 1e-3)
}

func TestAtRecoversSignalAndBackground(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames: 4,
		Spots:   []testutil.Spot{{X: 30.3, Y: 25.6, A: 250, First: 0, Last: 3, Dim: []int{2}}},
	})
	e := New(testConfig(1), quiet)
	cache := frames.NewCache(fx.Source)

	est, err := e.At(cache, 0, 1, 30, 26)
	require.NoError(t, err)
	assert.False(t, est.Fallback)
	assert.InDelta(t, 30.3, est.X, 0.15)
	assert.InDelta(t, 25.6, est.Y, 0.15)
	assert.InDelta(t, 250, est.A, 15)
	assert.InDelta(t, 100, est.C, 2)
	assert.Less(t, est.PVal, 0.05)

	bg, err := e.At(cache, 0, 2, 30.3, 25.6)
	require.NoError(t, err)
	assert.Less(t, math.Abs(bg.A), 5.0)
	assert.Greater(t, bg.PVal, 0.05, "empty frame is at background level")

	_, err = e.At(cache, 0, 1, 2, 30)
	assert.ErrorIs(t, err, frames.ErrWindowOutOfBounds)
}

func TestExcludeForeign(t *testing.T) {
	t.Parallel()

	labels := frames.NewImage(9, 9)
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			switch {
			case x >= 3 && x <= 5 && y >= 3 && y <= 5:
				labels.Set(x, y, 1)
			case x >= 6:
				labels.Set(x, y, 2)
			}
		}
	}
	win := frames.NewImage(5, 5)
	require.NoError(t, excludeForeign(win, labels, 4, 4, 2))

	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			foreign := x+2 >= 6
			assert.Equal(t, foreign, math.IsNaN(win.At(x, y)), "pixel (%d,%d)", x, y)
		}
	}
}

func prepared(t *testing.T, fx *testutil.Fixture, before, after int) *l3tracks.Track {
	t.Helper()
	return preparedWithMaster(t, fx, 0, before, after)
}

func preparedWithMaster(t *testing.T, fx *testutil.Fixture, master, before, after int) *l3tracks.Track {
	t.Helper()
	tr := l3tracks.Flatten(fx.Tracks[0], fx.Detections, fx.Movie, master)
	l3tracks.ClassifyGaps(tr)
	l3tracks.Interpolate(tr)
	l3tracks.ClassifyVisibility(tr, fx.Movie.NFrames, before, after)
	l3tracks.AttachBuffers(tr, fx.Movie, before, after, false)
	require.NoError(t, tr.Validate())
	return tr
}

func TestRunFillsGapsAndBuffers(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames: 40,
		Spots:   []testutil.Spot{{X: 30.2, Y: 25.7, A: 250, First: 5, Last: 20, Missing: []int{12}}},
	})
	tr := prepared(t, fx, 5, 5)
	require.Equal(t, l3tracks.VisibilityComplete, tr.Visibility)
	require.Len(t, tr.Gaps, 1)

	cache := frames.NewCache(fx.Source)
	st, err := New(testConfig(1), quiet).Run(context.Background(), []*l3tracks.Track{tr}, cache)
	require.NoError(t, err)

	assert.Equal(t, 11, st.Frames)
	assert.Equal(t, 11, st.Estimates)
	assert.Equal(t, 11, cache.Reads(), "one read per frame and channel")

	s := tr.MasterSeries()
	gap := tr.Gaps[0].First
	assert.InDelta(t, 250, s.A[gap], 15)
	assert.Less(t, s.PVal[gap], 0.05)
	assert.False(t, math.IsNaN(s.SigmaR[gap]))
	assert.Equal(t, l3tracks.SlotGap, tr.Kind[gap])

	for _, b := range []*l3tracks.Buffer{tr.StartBuffer, tr.EndBuffer} {
		for i := range b.F {
			assert.Greater(t, b.Channels[0].PVal[i], 0.05, "buffer frame %d", b.F[i])
		}
	}
}

func TestRunSlaveChannelsRespectCutoff(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames:  20,
		Channels: 2,
		Spots:    []testutil.Spot{{X: 30, Y: 30, A: 200, First: 8, Last: 9}},
	})
	tr := prepared(t, fx, 3, 3)

	_, err := New(testConfig(2), quiet).Run(context.Background(), []*l3tracks.Track{tr}, frames.NewCache(fx.Source))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(tr.StartBuffer.Channels[0].PVal[0]))
	assert.True(t, math.IsNaN(tr.StartBuffer.Channels[1].PVal[0]), "short track skips slave channels")

	long := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames:  20,
		Channels: 2,
		Spots:    []testutil.Spot{{X: 30, Y: 30, A: 200, First: 8, Last: 12}},
	})
	tr = prepared(t, long, 3, 3)
	_, err = New(testConfig(2), quiet).Run(context.Background(), []*l3tracks.Track{tr}, frames.NewCache(long.Source))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(tr.EndBuffer.Channels[1].PVal[0]))
}

func TestRunShortTrackEstimatesItsMasterChannel(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames:  20,
		Channels: 2,
		Spots:    []testutil.Spot{{X: 30, Y: 30, A: 200, First: 8, Last: 9}},
	})
	tr := preparedWithMaster(t, fx, 1, 3, 3)
	require.Equal(t, 1, tr.Master)

	e := New(testConfig(2), quiet)
	assert.Equal(t, []int{1}, e.channels(tr))
	_, err := e.Run(context.Background(), []*l3tracks.Track{tr}, frames.NewCache(fx.Source))
	require.NoError(t, err)
	for _, b := range []*l3tracks.Buffer{tr.StartBuffer, tr.EndBuffer} {
		for i := range b.F {
			assert.False(t, math.IsNaN(b.Channels[1].PVal[i]), "master buffer frame %d", b.F[i])
			assert.True(t, math.IsNaN(b.Channels[0].PVal[i]), "slave buffer frame %d", b.F[i])
		}
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		NFrames: 20,
		Spots:   []testutil.Spot{{X: 30, Y: 30, A: 200, First: 8, Last: 12}},
	})
	tr := prepared(t, fx, 3, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(1), quiet).Run(ctx, []*l3tracks.Track{tr}, frames.NewCache(fx.Source))
	assert.ErrorIs(t, err, context.Canceled)
}
