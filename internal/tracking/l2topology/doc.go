// Package l2topology owns Layer 2 (Topology) of the track processing model.
//
// Responsibilities: removal of single-frame compound tracks, fusion of
// segments that merge into a sibling born on their own last frame (a
// linking artefact), and removal of short merge/split branches.
//
// Dependency rule: L2 may depend on L1 only. All functions return fresh
// graphs; inputs are never mutated.
package l2topology
