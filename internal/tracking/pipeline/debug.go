package pipeline

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[pipeline] ", ops)
	diagLogger = newLogger("[pipeline] ", diag)
	traceLogger = newLogger("[pipeline] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (failed movies, sink errors).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// diagf logs to the diag stream (stage counts and timings).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-track category histories).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// movieFailed reports a movie that produced no result, naming the phase
// that failed.
func movieFailed(movie, phase string, err error) {
	opsf("%s: %s failed: %v", movie, phase, err)
}

// stageClock attributes elapsed movie time to the stage that just ended.
// It reads only Since, so a stepping clock still yields one deterministic
// total duration per movie.
type stageClock struct {
	movie string
	since func() time.Duration
	last  time.Duration
}

// done logs the stage name, how many tracks it left and the time spent in it.
func (s *stageClock) done(stage string, tracks int) {
	elapsed := s.since()
	diagf("%s", stageLine(s.movie, stage, tracks, elapsed-s.last))
	s.last = elapsed
}

func stageLine(movie, stage string, tracks int, d time.Duration) string {
	return fmt.Sprintf("%s: %-9s %6d tracks %10v", movie, stage, tracks, d.Round(time.Microsecond))
}

// traceTrack logs where a track ended up and the rules that moved it.
func traceTrack(movie string, tr *l3tracks.Track) {
	if traceLogger == nil {
		return
	}
	tracef("%s track %s (index %d, frames %d-%d, %d segments): %s",
		movie, tr.ID, tr.Index, tr.Start, tr.End, tr.NSeg, categoryHistory(tr))
}

// categoryHistory renders a track's transitions as "1 -Rule-> 2", or the
// bare category when no rule ever fired.
func categoryHistory(tr *l3tracks.Track) string {
	if len(tr.Transitions) == 0 {
		return fmt.Sprint(tr.Category)
	}
	var b strings.Builder
	fmt.Fprint(&b, tr.Transitions[0].From)
	for _, t := range tr.Transitions {
		fmt.Fprintf(&b, " -%s-> %d", t.Rule, t.To)
	}
	if tr.Parent != "" {
		fmt.Fprintf(&b, " (split from %s)", tr.Parent)
	}
	return b.String()
}
