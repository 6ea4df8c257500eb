package eye

import (
	"math"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultThreshold         = 0.21
	DefaultConsecutiveFrames = 2
	DefaultSmoothWindow      = 5
	DefaultBaselineAlpha     = 0.12
	DefaultHoldFrames        = 150
)

// Threshold bounds.
const (
	adaptiveMin = 0.12
	adaptiveMax = 0.35
	manualMin   = 0.10
	manualMax   = 0.40

	// adaptiveRatio is the fraction of the open-eye baseline used as threshold.
	adaptiveRatio = 0.7

	// adaptiveStep is the minimum change before an adaptive update is applied.
	adaptiveStep = 0.005

	calibrationFloor = 0.15
	calibrationSigma = 1.5
)

// Options configures an Analyzer.
type Options struct {
	// Threshold is the initial closure threshold.
	Threshold float64

	// ConsecutiveFrames caps each eye's closed-frame counter. A frame is
	// classified against the counter left by earlier frames, so an eye reads
	// closed from the frame after the counter reaches the cap: it takes
	// ConsecutiveFrames+1 frames below threshold.
	ConsecutiveFrames int

	// SmoothWindow is the number of raw EAR values in the median window.
	SmoothWindow int

	// Adaptive enables threshold updates from the open-eye baseline.
	Adaptive bool

	// BaselineAlpha is the EMA factor for the baseline, clamped to [0.01, 1].
	BaselineAlpha float64

	// HoldFrames is how many analyzed frames adaptive updates stay suspended
	// after a manual or calibrated threshold is set. Zero disables the hold.
	HoldFrames int
}

// DefaultOptions returns the stock analyzer settings.
func DefaultOptions() Options {
	return Options{
		Threshold:         DefaultThreshold,
		ConsecutiveFrames: DefaultConsecutiveFrames,
		SmoothWindow:      DefaultSmoothWindow,
		Adaptive:          true,
		BaselineAlpha:     DefaultBaselineAlpha,
		HoldFrames:        DefaultHoldFrames,
	}
}

// Sample is the per-frame openness result for an eye pair.
type Sample struct {
	LeftEAR   float64 `json:"left_ear"`
	RightEAR  float64 `json:"right_ear"`
	AvgEAR    float64 `json:"avg_ear"`
	LeftOpen  bool    `json:"left_open"`
	RightOpen bool    `json:"right_open"`
	BothOpen  bool    `json:"both_open"`
}

// BothClosed reports whether neither eye is open.
func (s Sample) BothClosed() bool {
	return !s.LeftOpen && !s.RightOpen
}

// Analyzer converts eye geometry into smoothed EAR values and hysteresis-gated
// open/closed flags.
type Analyzer struct {
	opts Options
	log  *zap.Logger

	threshold float64

	left, right           *window
	leftCount, rightCount int
	baseline              float64
	hasBaseline           bool
	hold                  int
}

// NewAnalyzer returns an Analyzer configured by opts. Zero-valued Threshold,
// ConsecutiveFrames, SmoothWindow and BaselineAlpha take their defaults.
func NewAnalyzer(opts Options, log *zap.Logger) *Analyzer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ConsecutiveFrames <= 0 {
		opts.ConsecutiveFrames = DefaultConsecutiveFrames
	}
	if opts.SmoothWindow <= 0 {
		opts.SmoothWindow = DefaultSmoothWindow
	}
	if opts.BaselineAlpha <= 0 {
		opts.BaselineAlpha = DefaultBaselineAlpha
	}
	opts.BaselineAlpha = math.Max(0.01, math.Min(1, opts.BaselineAlpha))

	return &Analyzer{
		opts:      opts,
		log:       logger.OrNop(log),
		threshold: opts.Threshold,
		left:      newWindow(opts.SmoothWindow),
		right:     newWindow(opts.SmoothWindow),
	}
}

// Analyze computes the EAR of each eye and classifies the pair.
func (a *Analyzer) Analyze(left, right Geometry) Sample {
	l, r := ComputeEAR(left), ComputeEAR(right)
	if l == 0 || r == 0 {
		a.log.Debug("eye: degenerate geometry",
			zap.Int("left_points", len(left)),
			zap.Int("right_points", len(right)),
		)
	}
	return a.AnalyzeRatios(l, r)
}

// AnalyzeRatios classifies a pair of raw EAR values supplied directly by the
// caller.
func (a *Analyzer) AnalyzeRatios(leftRaw, rightRaw float64) Sample {
	l := a.left.push(leftRaw)
	r := a.right.push(rightRaw)
	avg := (l + r) / 2

	if a.hold > 0 {
		a.hold--
	}
	if a.opts.Adaptive && l > 0 && r > 0 {
		a.updateBaseline(avg)
		if a.hold == 0 {
			a.maybeAdapt()
		}
	}

	// Classification reads the counters as left by previous frames, then
	// folds in this frame.
	leftOpen := a.leftCount < a.opts.ConsecutiveFrames
	rightOpen := a.rightCount < a.opts.ConsecutiveFrames
	a.leftCount = a.step(a.leftCount, l)
	a.rightCount = a.step(a.rightCount, r)

	return Sample{
		LeftEAR:   l,
		RightEAR:  r,
		AvgEAR:    avg,
		LeftOpen:  leftOpen,
		RightOpen: rightOpen,
		BothOpen:  leftOpen && rightOpen,
	}
}

// step advances a closed-frame counter for one smoothed EAR value.
func (a *Analyzer) step(counter int, ear float64) int {
	if ear < a.threshold {
		if counter < a.opts.ConsecutiveFrames {
			counter++
		}
		return counter
	}
	if counter > 0 {
		counter--
	}
	return counter
}

func (a *Analyzer) updateBaseline(avg float64) {
	if avg <= 0 {
		return
	}
	if !a.hasBaseline {
		a.baseline = avg
		a.hasBaseline = true
		return
	}
	alpha := a.opts.BaselineAlpha
	a.baseline = (1-alpha)*a.baseline + alpha*avg
}

func (a *Analyzer) maybeAdapt() {
	if !a.hasBaseline {
		return
	}
	next := clamp(a.baseline*adaptiveRatio, adaptiveMin, adaptiveMax)
	if math.Abs(next-a.threshold) >= adaptiveStep {
		a.threshold = next
		a.log.Debug("eye: adaptive threshold",
			zap.Float64("threshold", next),
			zap.Float64("baseline", a.baseline),
		)
	}
}

// Calibrate sets the threshold to max(0.15, mean - 1.5*stddev) of samples and
// returns it. The population standard deviation is used. An empty sample set
// leaves the threshold unchanged.
func (a *Analyzer) Calibrate(samples []float64) float64 {
	if len(samples) == 0 {
		a.log.Warn("eye: calibration without samples, keeping threshold",
			zap.Float64("threshold", a.threshold))
		return a.threshold
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		sq += (s - mean) * (s - mean)
	}
	std := math.Sqrt(sq / float64(len(samples)))

	a.threshold = math.Max(calibrationFloor, mean-calibrationSigma*std)
	a.startHold()
	a.log.Info("eye: calibrated threshold",
		zap.Float64("threshold", a.threshold),
		zap.Float64("mean", mean),
		zap.Float64("std", std),
		zap.Int("samples", len(samples)),
	)
	return a.threshold
}

// SetThreshold overrides the threshold, clamped to [0.1, 0.4].
func (a *Analyzer) SetThreshold(v float64) {
	a.threshold = clamp(v, manualMin, manualMax)
	a.startHold()
	a.log.Info("eye: threshold set", zap.Float64("threshold", a.threshold))
}

// Threshold returns the current closure threshold.
func (a *Analyzer) Threshold() float64 {
	return a.threshold
}

// Baseline returns the open-eye EMA baseline and whether one has been learned.
func (a *Analyzer) Baseline() (float64, bool) {
	return a.baseline, a.hasBaseline
}

// Reset clears smoothing history, hysteresis counters, the baseline and any
// pending hold. The threshold is kept.
func (a *Analyzer) Reset() {
	a.left.reset()
	a.right.reset()
	a.leftCount, a.rightCount = 0, 0
	a.baseline, a.hasBaseline = 0, false
	a.hold = 0
	a.log.Debug("eye: analyzer reset")
}

func (a *Analyzer) startHold() {
	if a.opts.HoldFrames > 0 {
		a.hold = a.opts.HoldFrames
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
