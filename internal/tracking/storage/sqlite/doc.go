// Package sqlite persists processed movies: one run row per movie with its
// processing record, one row per finalized track, and the track's
// master-channel slot series and MSD curve.
//
// All SQL for tracking results belongs here rather than in the layer
// packages, which stay free of storage concerns. The schema itself is
// owned by internal/db migrations.
package sqlite
