package l3tracks

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalidTrack is returned by Track.Validate.
var ErrInvalidTrack = errors.New("invalid track")

// SlotKind tags one slot of a flattened track.
type SlotKind uint8

const (
	SlotSample SlotKind = iota // frame with a detection
	SlotGap                    // frame bridged by the tracker without a detection
	SlotSeam                   // separator between two concatenated segments
)

func (k SlotKind) String() string {
	switch k {
	case SlotSample:
		return "sample"
	case SlotGap:
		return "gap"
	case SlotSeam:
		return "seam"
	}
	return fmt.Sprintf("SlotKind(%d)", uint8(k))
}

// Visibility describes how a track's span relates to the movie.
type Visibility uint8

const (
	VisibilityIncomplete Visibility = iota // buffers do not fit inside the movie
	VisibilityComplete                     // buffered span fits strictly inside the movie
	VisibilityPersistent                   // present in every frame
)

func (v Visibility) String() string {
	switch v {
	case VisibilityComplete:
		return "complete"
	case VisibilityPersistent:
		return "persistent"
	}
	return "incomplete"
}

// GapStatus is the validity code of a gap.
type GapStatus int

const (
	GapValid   GapStatus = 4
	GapInvalid GapStatus = 5
)

// Gap is a maximal run of gap slots. First and Last are inclusive slot
// indices.
type Gap struct {
	First  int
	Last   int
	Status GapStatus
}

// Len returns the number of frames in the gap.
func (g Gap) Len() int { return g.Last - g.First + 1 }

// Series holds one channel's per-slot measurements. Values are NaN wherever
// the slot carries no measurement.
type Series struct {
	X, Y, A, C             []float64
	XStd, YStd, AStd, CStd []float64
	SigmaR, PVal           []float64
	IsPSF                  []bool
}

func newSeries(n int) Series {
	return Series{
		X: nanSlice(n), Y: nanSlice(n), A: nanSlice(n), C: nanSlice(n),
		XStd: nanSlice(n), YStd: nanSlice(n), AStd: nanSlice(n), CStd: nanSlice(n),
		SigmaR: nanSlice(n), PVal: nanSlice(n),
		IsPSF: make([]bool, n),
	}
}

func (s *Series) slice(lo, hi int) Series {
	return Series{
		X: cloneRange(s.X, lo, hi), Y: cloneRange(s.Y, lo, hi),
		A: cloneRange(s.A, lo, hi), C: cloneRange(s.C, lo, hi),
		XStd: cloneRange(s.XStd, lo, hi), YStd: cloneRange(s.YStd, lo, hi),
		AStd: cloneRange(s.AStd, lo, hi), CStd: cloneRange(s.CStd, lo, hi),
		SigmaR: cloneRange(s.SigmaR, lo, hi), PVal: cloneRange(s.PVal, lo, hi),
		IsPSF: append([]bool(nil), s.IsPSF[lo:hi+1]...),
	}
}

// BufferSeries holds one channel's re-estimated values over a buffer.
type BufferSeries struct {
	X, Y, A, C   []float64
	AStd, CStd   []float64
	SigmaR, PVal []float64
}

// Buffer is a run of frames immediately outside a track's span.
type Buffer struct {
	F        []int
	T        []float64
	Channels []BufferSeries
}

// Len returns the number of buffer frames.
func (b *Buffer) Len() int { return len(b.F) }

// Transition records one category move.
type Transition struct {
	Rule string
	From int
	To   int
}

// MotionAnalysis summarises a track's master-channel motion.
type MotionAnalysis struct {
	// Displacement is the distance between the first and last finite
	// positions.
	Displacement float64
	// MSD[k-1] is the mean squared displacement at lag k.
	MSD      []float64
	MSDStd   []float64
	MSDPairs []int
}

// Track is one reconstructed trajectory. All slot arrays (Kind, F, T, Seg
// and every Series field) have the same length.
type Track struct {
	ID     string
	Index  int // compound track index in the tracker output
	NSeg   int
	Master int // master channel index

	Start, End         int
	StartTime, EndTime float64
	Lifetime           float64 // seconds

	Kind     []SlotKind
	F        []int     // frame per slot, -1 at seams
	T        []float64 // seconds per slot, NaN at seams
	Seg      []int     // segment per slot, -1 at seams
	Channels []Series

	Gaps       []Gap
	Visibility Visibility

	StartBuffer *Buffer
	EndBuffer   *Buffer

	Category    int
	Transitions []Transition
	IsCCP       bool
	MaxA        float64

	// Parent is the ID of the track this one was split from, if any.
	Parent string

	Motion *MotionAnalysis
}

func newTrackID() string {
	return fmt.Sprintf("trk_%s", uuid.NewString())
}

// Len returns the number of slots.
func (t *Track) Len() int { return len(t.Kind) }

// Frames returns the number of frames between Start and End inclusive.
func (t *Track) Frames() int { return t.End - t.Start + 1 }

// GapVect reports, per slot, whether the slot is a gap.
func (t *Track) GapVect() []bool {
	out := make([]bool, len(t.Kind))
	for i, k := range t.Kind {
		out[i] = k == SlotGap
	}
	return out
}

// count returns the number of slots of kind k.
func (t *Track) count(k SlotKind) int {
	n := 0
	for _, kk := range t.Kind {
		if kk == k {
			n++
		}
	}
	return n
}

// NumSamples returns the number of detected samples.
func (t *Track) NumSamples() int { return t.count(SlotSample) }

// NumGapFrames returns the number of gap slots.
func (t *Track) NumGapFrames() int { return t.count(SlotGap) }

// GapFraction returns the share of non-seam slots that are gaps.
func (t *Track) GapFraction() float64 {
	n := t.Len() - t.count(SlotSeam)
	if n == 0 {
		return 0
	}
	return float64(t.NumGapFrames()) / float64(n)
}

// AllGapsValid is true when every gap has GapValid status.
func (t *Track) AllGapsValid() bool {
	for _, g := range t.Gaps {
		if g.Status != GapValid {
			return false
		}
	}
	return true
}

// MasterSeries returns the master channel's series.
func (t *Track) MasterSeries() *Series { return &t.Channels[t.Master] }

// MaxAmplitude returns the largest master amplitude over detected samples,
// or NaN when there are none.
func (t *Track) MaxAmplitude() float64 {
	a := t.MasterSeries().A
	vals := make([]float64, 0, len(a))
	for i, k := range t.Kind {
		if k == SlotSample && !math.IsNaN(a[i]) {
			vals = append(vals, a[i])
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return floats.Max(vals)
}

// FirstPosition returns the first finite master position.
func (t *Track) FirstPosition() (x, y float64, ok bool) {
	s := t.MasterSeries()
	for i := range t.Kind {
		if t.Kind[i] != SlotSeam && !math.IsNaN(s.X[i]) && !math.IsNaN(s.Y[i]) {
			return s.X[i], s.Y[i], true
		}
	}
	return math.NaN(), math.NaN(), false
}

// LastPosition returns the last finite master position.
func (t *Track) LastPosition() (x, y float64, ok bool) {
	s := t.MasterSeries()
	for i := len(t.Kind) - 1; i >= 0; i-- {
		if t.Kind[i] != SlotSeam && !math.IsNaN(s.X[i]) && !math.IsNaN(s.Y[i]) {
			return s.X[i], s.Y[i], true
		}
	}
	return math.NaN(), math.NaN(), false
}

// SetCategory moves the track to a new category and records the move.
// Callers are expected to check the move is legal.
func (t *Track) SetCategory(rule string, to int) {
	t.Transitions = append(t.Transitions, Transition{Rule: rule, From: t.Category, To: to})
	t.Category = to
}

// Validate checks the structural invariants of a flattened track.
func (t *Track) Validate() error {
	n := len(t.Kind)
	if n == 0 {
		return fmt.Errorf("%w: %s has no slots", ErrInvalidTrack, t.ID)
	}
	if len(t.F) != n || len(t.T) != n || len(t.Seg) != n {
		return fmt.Errorf("%w: %s slot arrays disagree (kind=%d f=%d t=%d seg=%d)", ErrInvalidTrack, t.ID, n, len(t.F), len(t.T), len(t.Seg))
	}
	for c := range t.Channels {
		s := &t.Channels[c]
		for _, l := range []int{len(s.X), len(s.Y), len(s.A), len(s.C), len(s.XStd), len(s.YStd), len(s.AStd), len(s.CStd), len(s.SigmaR), len(s.PVal), len(s.IsPSF)} {
			if l != n {
				return fmt.Errorf("%w: %s channel %d has %d values for %d slots", ErrInvalidTrack, t.ID, c, l, n)
			}
		}
	}
	if t.Start > t.End {
		return fmt.Errorf("%w: %s starts at %d after end %d", ErrInvalidTrack, t.ID, t.Start, t.End)
	}
	if seams := t.count(SlotSeam); seams != t.NSeg-1 {
		return fmt.Errorf("%w: %s has %d seams for %d segments", ErrInvalidTrack, t.ID, seams, t.NSeg)
	}
	if t.Kind[0] == SlotSeam || t.Kind[n-1] == SlotSeam {
		return fmt.Errorf("%w: %s begins or ends with a seam", ErrInvalidTrack, t.ID)
	}
	for i, k := range t.Kind {
		if (k == SlotSeam) != (t.F[i] < 0) {
			return fmt.Errorf("%w: %s slot %d kind %s has frame %d", ErrInvalidTrack, t.ID, i, k, t.F[i])
		}
	}
	for _, g := range t.Gaps {
		if g.First < 0 || g.Last >= n || g.First > g.Last {
			return fmt.Errorf("%w: %s gap [%d,%d] out of range", ErrInvalidTrack, t.ID, g.First, g.Last)
		}
		for i := g.First; i <= g.Last; i++ {
			if t.Kind[i] != SlotGap {
				return fmt.Errorf("%w: %s gap covers %s slot %d", ErrInvalidTrack, t.ID, t.Kind[i], i)
			}
		}
	}
	if b := t.StartBuffer; b != nil && b.Len() > 0 {
		if err := checkBuffer(b, t.Start-b.Len()); err != nil {
			return fmt.Errorf("%w: %s start buffer: %v", ErrInvalidTrack, t.ID, err)
		}
	}
	if b := t.EndBuffer; b != nil && b.Len() > 0 {
		if err := checkBuffer(b, t.End+1); err != nil {
			return fmt.Errorf("%w: %s end buffer: %v", ErrInvalidTrack, t.ID, err)
		}
	}
	return nil
}

func checkBuffer(b *Buffer, first int) error {
	for i, f := range b.F {
		if f != first+i {
			return fmt.Errorf("frame %d at %d, want %d", f, i, first+i)
		}
	}
	if len(b.T) != len(b.F) {
		return fmt.Errorf("%d times for %d frames", len(b.T), len(b.F))
	}
	return nil
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func cloneRange(s []float64, lo, hi int) []float64 {
	return append([]float64(nil), s[lo:hi+1]...)
}
