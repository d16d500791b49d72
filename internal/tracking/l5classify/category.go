package l5classify

import (
	"errors"
	"fmt"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

// Track categories. Compound tracks use the single-track category plus 4.
const (
	CategoryValid      = 1 // complete, all gaps valid
	CategoryInvalid    = 2 // complete, failed a gap or signal test
	CategoryIncomplete = 3 // buffers do not fit inside the movie
	CategoryPersistent = 4 // present in every frame
	compoundOffset     = 4
)

// ErrIllegalTransition is returned by Apply for moves outside the table.
var ErrIllegalTransition = errors.New("illegal category transition")

// Transition names.
const (
	NotDiffractionLimited = "not_diffraction_limited"
	Rescue                = "rescue"
	BufferSignal          = "buffer_signal"
	GapDensity            = "gap_density"
	DisplacementOutlier   = "displacement_outlier"
)

type move struct{ from, to int }

// transitions lists every category move allowed after the initial
// assignment. Rescue is the only promotion.
var transitions = map[string]move{
	NotDiffractionLimited: {CategoryValid, CategoryInvalid},
	Rescue:                {CategoryInvalid, CategoryValid},
	BufferSignal:          {CategoryValid, CategoryInvalid},
	GapDensity:            {CategoryValid, CategoryInvalid},
	DisplacementOutlier:   {CategoryValid, CategoryInvalid},
}

// Apply performs a named transition, recording it on the track.
func Apply(tr *l3tracks.Track, name string) error {
	m, ok := transitions[name]
	if !ok {
		return fmt.Errorf("%w: unknown transition %q", ErrIllegalTransition, name)
	}
	if tr.Category != m.from {
		return fmt.Errorf("%w: %s from category %d (track %s)", ErrIllegalTransition, name, tr.Category, tr.ID)
	}
	tr.SetCategory(name, m.to)
	return nil
}

// InitialCategory returns the category implied by segment count, visibility
// and gap validity.
func InitialCategory(tr *l3tracks.Track) int {
	var cat int
	switch tr.Visibility {
	case l3tracks.VisibilityPersistent:
		cat = CategoryPersistent
	case l3tracks.VisibilityIncomplete:
		cat = CategoryIncomplete
	default:
		cat = CategoryInvalid
		if tr.AllGapsValid() {
			cat = CategoryValid
		}
	}
	if tr.NSeg > 1 {
		cat += compoundOffset
	}
	return cat
}
