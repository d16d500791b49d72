// Package frames provides raw movie frames and foreground masks to the
// estimator.
//
// Sources are addressed by (channel, frame) for intensity images and by
// frame for masks. TIFFSource decodes per-frame TIFF files through an
// fsutil.FileSystem; Memory serves images held in memory. Cache wraps any
// Source so that every track touching a frame shares one read per channel.
package frames
