// Package vision provides the image primitives the bot decides with:
// template matching by zero-mean normalised cross-correlation, patch
// statistics for empty-cell detection, and cropping.
//
// The Matcher interface is the swappable strategy. NCC is a pure Go
// implementation that searches coarse-to-fine on downscaled copies; an
// OpenCV-backed matcher is available when built with the "gocv" tag.
//
// Scores are in [0, 1]; anti-correlation is clamped to 0.
package vision
