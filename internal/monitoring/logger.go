package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// MovieLogf returns a logger that prefixes every line with the movie name so
// that interleaved output from concurrently processed movies stays attributable.
// The returned function resolves Logf at call time, so SetLogger still applies.
func MovieLogf(movie string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[movie=%s] ", movie)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
