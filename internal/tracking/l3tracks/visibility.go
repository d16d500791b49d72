package l3tracks

import (
	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

// ClassifyVisibility sets the track's visibility for a movie of nFrames
// frames and the given buffer lengths (config.BufferToEdge = to the movie
// edge, which always fits).
func ClassifyVisibility(tr *Track, nFrames, before, after int) Visibility {
	switch {
	case tr.Start == 0 && tr.End == nFrames-1:
		tr.Visibility = VisibilityPersistent
	case tr.Start > 0 && tr.End < nFrames-1 &&
		(before == config.BufferToEdge || tr.Start-before >= 0) &&
		(after == config.BufferToEdge || tr.End+after <= nFrames-1):
		tr.Visibility = VisibilityComplete
	default:
		tr.Visibility = VisibilityIncomplete
	}
	return tr.Visibility
}

// AttachBuffers allocates start and end buffers for complete tracks, or for
// every non-persistent track when all is set. Buffers are clipped to the
// movie; a side with no room gets no buffer. Values stay NaN until the
// estimator fills them.
func AttachBuffers(tr *Track, movie *l1input.Movie, before, after int, all bool) {
	tr.StartBuffer, tr.EndBuffer = nil, nil
	switch {
	case tr.Visibility == VisibilityPersistent:
		return
	case tr.Visibility != VisibilityComplete && !all:
		return
	}

	lo := 0
	if before != config.BufferToEdge {
		lo = max(tr.Start-before, 0)
	}
	hi := movie.NFrames - 1
	if after != config.BufferToEdge {
		hi = min(tr.End+after, movie.NFrames-1)
	}
	tr.StartBuffer = newBuffer(movie, len(tr.Channels), lo, tr.Start-1)
	tr.EndBuffer = newBuffer(movie, len(tr.Channels), tr.End+1, hi)
}

func newBuffer(movie *l1input.Movie, nch, first, last int) *Buffer {
	if last < first {
		return nil
	}
	n := last - first + 1
	b := &Buffer{F: make([]int, n), T: make([]float64, n), Channels: make([]BufferSeries, nch)}
	for i := range b.F {
		b.F[i] = first + i
		b.T[i] = movie.Time(first + i)
	}
	for c := range b.Channels {
		b.Channels[c] = BufferSeries{
			X: nanSlice(n), Y: nanSlice(n), A: nanSlice(n), C: nanSlice(n),
			AStd: nanSlice(n), CStd: nanSlice(n), SigmaR: nanSlice(n), PVal: nanSlice(n),
		}
	}
	return b
}
