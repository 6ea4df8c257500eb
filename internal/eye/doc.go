// Package eye turns per-frame eye landmark geometry into a smoothed eye aspect
// ratio (EAR) and an open/closed classification per eye.
//
// geometry.go holds the pure EAR formula over the six-point eye contour.
// window.go is the fixed-capacity median smoothing window.
// analyzer.go is the stateful Analyzer: median smoothing, the open-eye EMA
// baseline that drives the adaptive closure threshold, and per-eye hysteresis
// counters. calibrate.go collects samples for a one-shot threshold calibration.
//
// Nothing here performs I/O and nothing returns an error: degenerate geometry
// yields an EAR of 0, which downstream code treats as a closed eye.
//
// An Analyzer is not safe for concurrent use; one instance serves one camera
// stream and is driven from a single goroutine.
package eye
