package l5classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

func TestApply(t *testing.T) {
	t.Parallel()

	tr := track(3, "SSSS", 10)
	tr.Category = CategoryValid

	require.NoError(t, Apply(tr, BufferSignal))
	assert.Equal(t, CategoryInvalid, tr.Category)
	require.NoError(t, Apply(tr, Rescue))
	assert.Equal(t, CategoryValid, tr.Category)
	assert.Equal(t, []l3tracks.Transition{
		{Rule: BufferSignal, From: 1, To: 2},
		{Rule: Rescue, From: 2, To: 1},
	}, tr.Transitions)

	assert.ErrorIs(t, Apply(tr, Rescue), ErrIllegalTransition, "rescue needs category 2")
	assert.ErrorIs(t, Apply(tr, "promote"), ErrIllegalTransition)

	tr.Category = CategoryIncomplete
	for name := range transitions {
		assert.ErrorIs(t, Apply(tr, name), ErrIllegalTransition, name)
	}
	assert.Equal(t, CategoryIncomplete, tr.Category)
}

func TestInitialCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		vis     l3tracks.Visibility
		want    int
	}{
		{"complete, valid gaps", "SSGSS", l3tracks.VisibilityComplete, 1},
		{"complete, no gaps", "SSSS", l3tracks.VisibilityComplete, 1},
		{"complete, invalid gap", "SGGSSS", l3tracks.VisibilityComplete, 2},
		{"incomplete", "SGGSSS", l3tracks.VisibilityIncomplete, 3},
		{"persistent", "SSSS", l3tracks.VisibilityPersistent, 4},
		{"compound complete valid", "SS|SS", l3tracks.VisibilityComplete, 5},
		{"compound complete invalid", "SS|SGGS", l3tracks.VisibilityComplete, 6},
		{"compound incomplete", "SS|SS", l3tracks.VisibilityIncomplete, 7},
		{"compound persistent", "SS|SS", l3tracks.VisibilityPersistent, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := track(1, tt.pattern, 10)
			tr.Visibility = tt.vis
			assert.Equal(t, tt.want, InitialCategory(tr))
		})
	}
}
