// Package l3tracks owns Layer 3 (Tracks) of the track processing model.
//
// Responsibilities: flattening compound segment graphs into per-track slot
// sequences, boundary rejection, visibility classification, buffer
// allocation, gap classification and interpolation, and re-slicing tracks
// into children.
// Key types: Track, Series, Gap, Buffer.
//
// Every slot of a flattened track is tagged as a detected sample, a gap
// (tracker-bridged frame without a detection) or a seam (structural
// separator between segments). Gaps and seams both carry NaN measurements;
// the tag is what tells them apart.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4 and above.
package l3tracks
