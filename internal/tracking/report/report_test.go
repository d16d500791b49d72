package report

import (
	"bytes"
	"context"
	"image/png"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/testutil"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
)

func testResult(t *testing.T) *pipeline.Result {
	t.Helper()
	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		Name:    "cell07",
		NFrames: 12,
		Spots: []testutil.Spot{
			{X: 20, Y: 20, A: 200, First: 2, Last: 6},
			{X: 40, Y: 30, A: 150, First: 3, Last: 8},
		},
	})
	var tracks []*l3tracks.Track
	for _, ct := range fx.Tracks {
		tr := l3tracks.Flatten(ct, fx.Detections, fx.Movie, 0)
		tr.Category = 1
		tracks = append(tracks, tr)
	}
	tracks[0].Motion = &l3tracks.MotionAnalysis{MSD: []float64{1, 4, math.NaN()}}
	tracks[1].Motion = &l3tracks.MotionAnalysis{MSD: []float64{3, math.NaN()}}
	tracks[1].Category = 2

	before := make([]int, 13)
	before[5] = 1
	after := make([]int, 13)
	after[5], after[6] = 1, 1
	return &pipeline.Result{
		Movie:  fx.Movie,
		Tracks: tracks,
		Info: pipeline.ProcessingInfo{
			RunID:              "run-1",
			Movie:              "cell07",
			NFrames:            12,
			FrameInterval:      2,
			LifetimeHistBefore: before,
			LifetimeHistAfter:  after,
			Rescued:            1,
			CategoryCounts:     map[int]int{1: 1, 2: 1},
		},
	}
}

func TestWriteLifetimePlot(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	out, err := WriteLifetimePlot(fs, "reports/cell07", testResult(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("reports/cell07", LifetimePlotName), out)

	data, err := fs.ReadFile(out)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy())
}

func TestLifetimeSeriesWithoutClassification(t *testing.T) {
	t.Parallel()
	res := testResult(t)
	res.Info.LifetimeHistBefore, res.Info.LifetimeHistAfter = nil, nil

	series := lifetimeSeries(res)
	require.Len(t, series, 1)
	assert.Equal(t, "final", series[0].label)
	assert.Equal(t, 1, series[0].counts[5], "only the 5-frame track is category 1")
}

func TestMeanMSD(t *testing.T) {
	t.Parallel()
	res := testResult(t)
	res.Tracks[1].Category = 1

	got := meanMSD(res)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0])
	assert.Equal(t, 4.0, got[1])
	assert.True(t, math.IsNaN(got[2]))
}

func TestWriteSummaryHTML(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()

	out, err := WriteSummaryHTML(fs, "reports/cell07", testResult(t))
	require.NoError(t, err)
	data, err := fs.ReadFile(out)
	require.NoError(t, err)

	html := string(data)
	assert.True(t, strings.Contains(html, "Track categories"))
	assert.True(t, strings.Contains(html, "Category 1 lifetimes"))
	assert.True(t, strings.Contains(html, "Mean squared displacement"))
	assert.False(t, strings.Contains(html, "NaN"))
}

func TestWriterSink(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	w := &Writer{FS: fs, Dir: "out"}

	require.NoError(t, w.Write(context.Background(), testResult(t)))
	assert.True(t, fs.Exists(filepath.Join("out", "cell07", LifetimePlotName)))
	assert.True(t, fs.Exists(filepath.Join("out", "cell07", SummaryName)))
}

func TestWriterSanitizesMovieDirectory(t *testing.T) {
	t.Parallel()
	fs := fsutil.NewMemoryFileSystem()
	w := &Writer{FS: fs, Dir: "out"}

	res := testResult(t)
	res.Info.Movie = "../cell 07"
	require.NoError(t, w.Write(context.Background(), res))
	assert.True(t, fs.Exists(filepath.Join("out", "cell_07", SummaryName)))
}
