// Package l4estimate owns Layer 4 (Estimation) of the track processing
// model.
//
// Responsibilities: re-estimating position, amplitude and background at
// every valid gap frame and every buffer frame of every track by local PSF
// fitting on the raw frames, and attaching a background-level p-value to
// each estimate.
//
// Work is gathered per frame and processed frame-major, channel-minor, so
// each frame and mask is read once no matter how many tracks touch it.
//
// Dependency rule: L4 may depend on L1-L3, frames and psffit.
package l4estimate
