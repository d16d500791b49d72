package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/testutil"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/l5classify"
)

// scenario builds a movie with three puncta:
//   - index 0 at (20,20), frames 6..30, undetected at 18, which the tracker
//     reports as two segments overlapping on frame 12;
//   - index 1 at (40,40), visible for the whole movie;
//   - index 2 at (3,30), too close to the border.
func scenario(t *testing.T, name string) (*testutil.Fixture, *fsutil.MemoryFileSystem) {
	t.Helper()
	fx := testutil.SyntheticMovie(testutil.MovieOptions{
		Name: name,
		Seed: 7,
		Spots: []testutil.Spot{
			{X: 20, Y: 20, A: 300, First: 6, Last: 30, Missing: []int{18}},
			{X: 40, Y: 40, A: 300, First: 0, Last: 39},
			{X: 3, Y: 30, A: 300, First: 5, Last: 20},
		},
	})

	feat := fx.Tracks[0].Segments[0].Feat // frames 6..30
	fx.Tracks[0].Segments = []l1input.Segment{
		{ID: 0, Start: 6, Feat: append([]int(nil), feat[:7]...), SplitFrom: l1input.NoParent, MergeInto: 1},
		{ID: 1, Start: 12, Feat: append([]int(nil), feat[6:]...), SplitFrom: l1input.NoParent, MergeInto: l1input.NoParent},
	}
	require.NoError(t, fx.Tracks[0].Validate())

	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, testutil.WriteFixture(fs, fx))
	return fx, fs
}

func byIndex(tracks []*l3tracks.Track, index int) *l3tracks.Track {
	for _, tr := range tracks {
		if tr.Index == index {
			return tr
		}
	}
	return nil
}

func TestProcessMovieEndToEnd(t *testing.T) {
	t.Parallel()

	fx, fs := scenario(t, "e2e")
	res, err := ProcessMovie(context.Background(), fx.Movie, config.EmptyTuningConfig(), fs, nil)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 2)

	info := res.Info
	assert.NotEmpty(t, info.RunID)
	assert.Equal(t, "e2e", info.Movie)
	assert.True(t, info.Preprocessed)
	assert.True(t, info.Postprocessed)
	assert.Equal(t, 3, info.CompoundTracks)
	assert.Equal(t, 1, info.Fusions)
	assert.Equal(t, 1, info.BorderRejected)
	assert.Equal(t, 0, info.MasterChannel)

	merged := byIndex(res.Tracks, 0)
	require.NotNil(t, merged)
	assert.Equal(t, 1, merged.NSeg, "the one-frame overlap is fused")
	assert.Equal(t, 6, merged.Start)
	assert.Equal(t, 30, merged.End)
	assert.Equal(t, l3tracks.VisibilityComplete, merged.Visibility)
	require.Len(t, merged.Gaps, 1)
	assert.Equal(t, l3tracks.GapValid, merged.Gaps[0].Status)

	gap := merged.Gaps[0].First
	assert.Equal(t, 18, merged.F[gap])
	ms := merged.MasterSeries()
	assert.InDelta(t, 20, ms.X[gap], 0.3)
	assert.InDelta(t, 20, ms.Y[gap], 0.3)
	assert.Greater(t, ms.A[gap], 200.0, "the punctum is still in the image at the gap")

	require.NotNil(t, merged.StartBuffer)
	require.NotNil(t, merged.EndBuffer)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, merged.StartBuffer.F)
	assert.Equal(t, []int{31, 32, 33, 34, 35}, merged.EndBuffer.F)
	for _, a := range merged.EndBuffer.Channels[0].A {
		assert.False(t, math.IsNaN(a))
		assert.Less(t, a, 50.0, "buffers sit on background")
	}
	assert.Equal(t, l5classify.CategoryValid, merged.Category)
	assert.True(t, merged.IsCCP)
	require.NotNil(t, merged.Motion)

	persistent := byIndex(res.Tracks, 1)
	require.NotNil(t, persistent)
	assert.Equal(t, l3tracks.VisibilityPersistent, persistent.Visibility)
	assert.Nil(t, persistent.StartBuffer)
	assert.Nil(t, persistent.EndBuffer)
	assert.Equal(t, l5classify.CategoryPersistent, persistent.Category)

	assert.Equal(t, map[int]int{1: 1, 4: 1}, info.CategoryCounts)
	assert.Equal(t, 2, info.MotionAnalysed)
	require.Len(t, info.LifetimeHistBefore, fx.Movie.NFrames+1)
	assert.Equal(t, 1, info.LifetimeHistAfter[merged.Frames()])
}

func TestProcessMovieWithoutPostprocessing(t *testing.T) {
	t.Parallel()

	fx, fs := scenario(t, "nopost")
	cfg, err := config.ParseTuningConfig([]byte(`{"postprocess": false}`))
	require.NoError(t, err)

	res, err := ProcessMovie(context.Background(), fx.Movie, cfg, fs, fx.Source)
	require.NoError(t, err)
	assert.False(t, res.Info.Postprocessed)
	assert.Nil(t, res.Info.LifetimeHistBefore)
	for _, tr := range res.Tracks {
		require.Len(t, tr.Transitions, 1)
		assert.Equal(t, "initial", tr.Transitions[0].Rule)
		assert.False(t, tr.IsCCP, "diffraction-limited rule did not run")
	}
}

func TestProcessMovieWithoutPreprocessing(t *testing.T) {
	t.Parallel()

	fx, fs := scenario(t, "nopre")
	cfg, err := config.ParseTuningConfig([]byte(`{"preprocess": false}`))
	require.NoError(t, err)

	res, err := ProcessMovie(context.Background(), fx.Movie, cfg, fs, fx.Source)
	require.NoError(t, err)
	assert.Zero(t, res.Info.Fusions)
	merged := byIndex(res.Tracks, 0)
	require.NotNil(t, merged)
	assert.Equal(t, 2, merged.NSeg)
	assert.Equal(t, l5classify.CategoryValid+4, merged.Category)
}

func TestProcessMovieMissingInput(t *testing.T) {
	t.Parallel()

	fx := testutil.SyntheticMovie(testutil.MovieOptions{Name: "absent"})
	_, err := ProcessMovie(context.Background(), fx.Movie, nil, fsutil.NewMemoryFileSystem(), fx.Source)
	require.ErrorIs(t, err, l1input.ErrMissingInput)
}

func TestProcessMovieCancelled(t *testing.T) {
	t.Parallel()

	fx, fs := scenario(t, "cancel")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ProcessMovie(ctx, fx.Movie, nil, fs, fx.Source)
	require.ErrorIs(t, err, context.Canceled)
}
