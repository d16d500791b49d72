// Package l1input owns Layer 1 (Inputs) of the track processing model.
//
// Responsibilities: the per-frame detection tables produced by the PSF
// detector, the merge/split segment graph produced by the multi-target
// tracker, the movie descriptor, and the JSON loaders for all three.
// Key types: DetectionFrame, CompoundTrack, Segment, Event, Movie.
//
// Dependency rule: L1 depends on nothing above it. The tracker's positional
// event tables are converted into typed segments here so every later layer
// can check graph invariants directly.
package l1input
