package l3tracks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyGaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		want    []Gap
	}{
		{name: "no gaps", pattern: "SSSS", want: nil},
		{name: "single frame gap between singletons", pattern: "SGS", want: []Gap{{1, 1, GapValid}}},
		{name: "long gap with long flanks", pattern: "SSGGGSS", want: []Gap{{2, 4, GapValid}}},
		{name: "long gap with short left flank", pattern: "SGGSSS", want: []Gap{{1, 2, GapInvalid}}},
		{name: "long gap with short right flank", pattern: "SSSGGS", want: []Gap{{3, 4, GapInvalid}}},
		{name: "flank ended by a seam", pattern: "SS|SGGSS", want: []Gap{{4, 5, GapInvalid}}},
		{name: "gap against a seam", pattern: "SS|GGSS", want: []Gap{{3, 4, GapInvalid}}},
		{name: "flank ended by another gap", pattern: "SSGSGGSS", want: []Gap{{2, 2, GapValid}, {4, 5, GapInvalid}}},
		{name: "edge gap of one frame", pattern: "GSSS", want: []Gap{{0, 0, GapValid}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := patternTrack(0, tt.pattern)
			got := ClassifyGaps(tr)
			if tt.want == nil {
				assert.Empty(t, got)
				assert.True(t, tr.AllGapsValid())
				return
			}
			assert.Equal(t, tt.want, got)
			require.NoError(t, tr.Validate())
		})
	}
}

func TestInterpolateRoundTrip(t *testing.T) {
	t.Parallel()

	tr := patternTrack(4, "SSGGGSS")
	ClassifyGaps(tr)
	require.True(t, tr.AllGapsValid())
	Interpolate(tr)

	s := tr.MasterSeries()
	// Endpoints are frames 5 and 9; frames 6..8 must lie evenly on the line.
	for i, f := range []int{6, 7, 8} {
		slot := 2 + i
		assert.InDelta(t, 2*float64(f), s.X[slot], 1e-9)
		assert.InDelta(t, 3*float64(f), s.Y[slot], 1e-9)
		assert.InDelta(t, 100+float64(f), s.A[slot], 1e-9)
		assert.InDelta(t, 10.0, s.C[slot], 1e-9)
		assert.True(t, math.IsNaN(s.XStd[slot]), "uncertainties are not interpolated")
	}
	assert.Equal(t, SlotGap, tr.Kind[3], "interpolation does not change slot kinds")
}

func TestInterpolateMidpoint(t *testing.T) {
	t.Parallel()

	tr := patternTrack(0, "SSSGSSS")
	s := tr.MasterSeries()
	s.X[2], s.Y[2] = 10, 20
	s.X[4], s.Y[4] = 14, 26
	ClassifyGaps(tr)
	require.Equal(t, []Gap{{3, 3, GapValid}}, tr.Gaps)
	Interpolate(tr)
	assert.Equal(t, 12.0, s.X[3])
	assert.Equal(t, 23.0, s.Y[3])
}

func TestInterpolateSkipsInvalidAndEdgeGaps(t *testing.T) {
	t.Parallel()

	tr := patternTrack(0, "GSGGSSS|SGS")
	ClassifyGaps(tr)
	Interpolate(tr)
	s := tr.MasterSeries()
	assert.True(t, math.IsNaN(s.X[0]), "edge gap has no left neighbour")
	assert.True(t, math.IsNaN(s.X[2]), "invalid gap stays NaN")
	assert.False(t, math.IsNaN(s.X[9]), "valid gap after a seam is filled")
	assert.False(t, tr.AllGapsValid())
}

func TestGapFraction(t *testing.T) {
	t.Parallel()

	tr := patternTrack(0, "SG|GS")
	assert.InDelta(t, 0.5, tr.GapFraction(), 1e-12)
	assert.Equal(t, 2, tr.NumSamples())
}
