// Package pipeline runs the track post-processing stages for one movie and
// fans a batch of movies out across workers.
//
// This package is the composition root: it imports the layer packages
// (l1input through l6motion) together with frames and psffit, but none of
// those packages import pipeline/. Dependency rule: output adapters
// (storage, report) receive results through the Sink interface and are
// wired in by cmd/punctatrack.
package pipeline
