package eye

import "time"

// DefaultCalibrationWindow is how long samples are collected by default.
const DefaultCalibrationWindow = 5 * time.Second

// Calibrator collects average-EAR samples over a fixed real-time window while
// the user blinks naturally.
type Calibrator struct {
	start   time.Time
	window  time.Duration
	samples []float64
}

// NewCalibrator starts a collection window at start. A non-positive window
// means DefaultCalibrationWindow.
func NewCalibrator(start time.Time, window time.Duration) *Calibrator {
	if window <= 0 {
		window = DefaultCalibrationWindow
	}
	return &Calibrator{start: start, window: window}
}

// Add records one sample observed at now. Samples outside the window and
// zero (degenerate) readings are ignored. It reports whether the sample was kept.
func (c *Calibrator) Add(ear float64, now time.Time) bool {
	if ear <= 0 || now.Before(c.start) || c.Done(now) {
		return false
	}
	c.samples = append(c.samples, ear)
	return true
}

// Done reports whether the collection window has elapsed at now.
func (c *Calibrator) Done(now time.Time) bool {
	return now.Sub(c.start) >= c.window
}

// Finish applies the collected samples to a and returns the new threshold.
func (c *Calibrator) Finish(a *Analyzer) float64 {
	return a.Calibrate(c.samples)
}
