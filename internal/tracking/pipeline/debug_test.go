package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

func TestCategoryHistory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tr   *l3tracks.Track
		want string
	}{
		{"no rules fired", &l3tracks.Track{Category: 5}, "5"},
		{"demoted then rescued", &l3tracks.Track{
			Category: 1,
			Transitions: []l3tracks.Transition{
				{Rule: "DiffractionLimited", From: 1, To: 2},
				{Rule: "Rescue", From: 2, To: 1},
			},
		}, "1 -DiffractionLimited-> 2 -Rescue-> 1"},
		{"split child", &l3tracks.Track{
			Category:    2,
			Parent:      "trk_parent",
			Transitions: []l3tracks.Transition{{Rule: "GapDensity", From: 1, To: 2}},
		}, "1 -GapDensity-> 2 (split from trk_parent)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categoryHistory(tt.tr))
		})
	}
}

func TestStageClockAttributesTimeToEachStage(t *testing.T) {
	t.Parallel()

	marks := []time.Duration{3 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond, 25 * time.Millisecond}
	i := 0
	s := &stageClock{movie: "cell01", since: func() time.Duration {
		d := marks[i]
		i++
		return d
	}}

	var spent []time.Duration
	for _, stage := range []string{"load", "flatten", "estimate", "classify"} {
		before := s.last
		s.done(stage, 4)
		spent = append(spent, s.last-before)
	}
	assert.Equal(t, []time.Duration{3 * time.Millisecond, 7 * time.Millisecond, 0, 15 * time.Millisecond}, spent)
	assert.Equal(t, 25*time.Millisecond, s.last)
}

func TestStageLine(t *testing.T) {
	t.Parallel()

	line := stageLine("cell01", "estimate", 42, 1500*time.Microsecond+300)
	assert.Contains(t, line, "cell01: estimate")
	assert.Contains(t, line, "42 tracks")
	assert.Contains(t, line, "1.5ms")
}
