// Package l6motion owns Layer 6 (Motion) of the track processing model:
// end-to-end displacement and mean squared displacement curves of
// single-segment tracks.
//
// Dependency rule: L6 may depend on L1-L5.
package l6motion
