package l5classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

// hotspotTrack has jittered samples on frames 0..9 near (10, 10) and
// 11..19 near (10+shift, 10), with a single-frame gap on frame 10 carrying gapP.
func hotspotTrack(shift, gapP float64) *l3tracks.Track {
	tr := track(0, samples(10)+"G"+samples(9), 100)
	s := tr.MasterSeries()
	for i := range tr.Kind {
		if tr.Kind[i] != l3tracks.SlotSample {
			continue
		}
		s.X[i], s.Y[i] = 10+0.5*float64(i%2), 10+0.125*float64(i%3)
		if i > 10 {
			s.X[i] += shift
		}
	}
	s.PVal[10], s.A[10] = gapP, -20
	tr.Category, tr.MaxA = CategoryValid, 100
	return tr
}

func TestHotspotSplit(t *testing.T) {
	t.Parallel()

	tr := hotspotTrack(4, 0.999)
	ctx := testContext()
	out := ruleHotspotSplit([]*l3tracks.Track{tr}, ctx)

	require.Len(t, out, 2)
	assert.Equal(t, 1, ctx.SplitParents)
	assert.Equal(t, 0, out[0].Start)
	assert.Equal(t, 9, out[0].End)
	assert.Equal(t, 11, out[1].Start)
	assert.Equal(t, 19, out[1].End)
	for _, c := range out {
		assert.Equal(t, tr.ID, c.Parent)
		assert.Equal(t, CategoryValid, c.Category)
		assert.Equal(t, 100.0, c.MaxA)
		assert.Empty(t, c.Gaps)
	}
}

func TestHotspotSplitGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tr   func() *l3tracks.Track
	}{
		{"gap at background level", func() *l3tracks.Track { return hotspotTrack(4, 0.5) }},
		{"gap not estimated", func() *l3tracks.Track { tr := hotspotTrack(4, 0); tr.MasterSeries().PVal[10] = nans(1)[0]; return tr }},
		{"same position on both sides", func() *l3tracks.Track { return hotspotTrack(0, 0.999) }},
		{"overlapping clusters", func() *l3tracks.Track { return hotspotTrack(0.1, 0.999) }},
		{"not category 1", func() *l3tracks.Track { tr := hotspotTrack(4, 0.999); tr.Category = CategoryIncomplete; return tr }},
		{"too short", func() *l3tracks.Track {
			tr := track(0, "SSGSS", 100)
			tr.Category = CategoryValid
			tr.MasterSeries().PVal[2] = 0.999
			return tr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.tr()
			out := ruleHotspotSplit([]*l3tracks.Track{tr}, testContext())
			require.Len(t, out, 1)
			assert.Same(t, tr, out[0])
		})
	}
}
