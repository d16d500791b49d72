// Package psffit fits a symmetric 2D Gaussian plus constant background to
// an image window with fixed PSF sigma, and tests whether the fitted
// amplitude is distinguishable from background noise.
//
// Two modes are supported: FitXYAC frees centre, amplitude and background
// (BFGS on the mean squared residual, with amplitude and background scaled
// by the pixel spread), and FitAC fixes the centre and solves amplitude and
// background by linear least squares. Pixels holding NaN are excluded from
// both fits.
package psffit
