package blink

import (
	"time"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultConsecutiveFrames = 2
	DefaultMinDuration       = 50 * time.Millisecond
	DefaultMaxDuration       = 500 * time.Millisecond
)

// State is the closure-tracking state of a Machine.
type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// Event is one qualifying blink. Timestamp is the frame on which the eyes
// reopened.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// Duration returns the blink duration.
func (e Event) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// Options configures the duration and frame gating.
type Options struct {
	ConsecutiveFrames int
	MinDuration       time.Duration
	MaxDuration       time.Duration
}

// DefaultOptions returns the stock gating: 2 frames, 50–500ms.
func DefaultOptions() Options {
	return Options{
		ConsecutiveFrames: DefaultConsecutiveFrames,
		MinDuration:       DefaultMinDuration,
		MaxDuration:       DefaultMaxDuration,
	}
}

// Machine is the blink state machine. It is not safe for concurrent use.
type Machine struct {
	opts Options
	log  *zap.Logger

	runActive bool
	runStart  time.Time
	runFrames int

	total     int
	lastBlink time.Time
	lastOpen  time.Time
	openSince time.Time // zero while closed
	history   []time.Time
	histCap   int
}

// DefaultHistoryCapacity bounds the blink timestamps kept for the rate helpers.
const DefaultHistoryCapacity = 300

// NewMachine returns a Machine in StateOpen. Zero-valued options take their
// defaults.
func NewMachine(opts Options, log *zap.Logger) *Machine {
	if opts.ConsecutiveFrames <= 0 {
		opts.ConsecutiveFrames = DefaultConsecutiveFrames
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	return &Machine{
		opts:    opts,
		log:     logger.OrNop(log),
		histCap: DefaultHistoryCapacity,
	}
}

// Process folds one frame into the machine. It returns an Event and true only
// on the open frame that ends a qualifying closure run.
func (m *Machine) Process(bothClosed bool, ts time.Time) (Event, bool) {
	if bothClosed {
		if !m.runActive {
			m.runActive = true
			m.runStart = ts
			m.runFrames = 1
		} else {
			m.runFrames++
		}
		m.openSince = time.Time{}
		return Event{}, false
	}

	m.lastOpen = ts
	if m.openSince.IsZero() {
		m.openSince = ts
	}
	if !m.runActive {
		return Event{}, false
	}

	durationMs := ts.Sub(m.runStart).Milliseconds()
	frames := m.runFrames
	m.clearRun()

	if !m.Qualifies(frames, durationMs) {
		m.log.Debug("blink: closure rejected",
			zap.Int("frames", frames),
			zap.Int64("duration_ms", durationMs),
		)
		return Event{}, false
	}

	ev := Event{Timestamp: ts, DurationMs: durationMs}
	m.total++
	m.lastBlink = ts
	m.remember(ts)
	m.log.Debug("blink: detected",
		zap.Int64("duration_ms", durationMs),
		zap.Int("total", m.total),
	)
	return ev, true
}

// Qualifies reports whether a closure run of frames frames lasting durationMs
// counts as a blink.
func (m *Machine) Qualifies(frames int, durationMs int64) bool {
	return frames >= m.opts.ConsecutiveFrames &&
		durationMs >= m.opts.MinDuration.Milliseconds() &&
		durationMs <= m.opts.MaxDuration.Milliseconds()
}

// State returns StateClosing while a closure run is in progress.
func (m *Machine) State() State {
	if m.runActive {
		return StateClosing
	}
	return StateOpen
}

// LastBlink returns the time of the most recent blink, if any.
func (m *Machine) LastBlink() (time.Time, bool) {
	return m.lastBlink, !m.lastBlink.IsZero()
}

// LastOpen returns the most recent frame time at which the eyes were open.
func (m *Machine) LastOpen() time.Time {
	return m.lastOpen
}

// OpenFor returns how long the eyes have been open without a closed frame,
// as of now. It is zero while closed and before the first frame.
func (m *Machine) OpenFor(now time.Time) time.Duration {
	if m.openSince.IsZero() {
		return 0
	}
	if d := now.Sub(m.openSince); d > 0 {
		return d
	}
	return 0
}

// IsOpenTooLong reports whether more than threshold has elapsed since the last
// blink. It is false before the first blink.
func (m *Machine) IsOpenTooLong(threshold time.Duration, now time.Time) bool {
	last, ok := m.LastBlink()
	if !ok {
		return false
	}
	return now.Sub(last) > threshold
}

// IsLowRate reports whether fewer than minPerMinute blinks per minute were
// seen over the trailing window. It is false before the first blink.
func (m *Machine) IsLowRate(minPerMinute float64, window time.Duration, now time.Time) bool {
	if len(m.history) == 0 {
		return false
	}
	cutoff := now.Add(-window)
	var n int
	for _, ts := range m.history {
		if ts.After(cutoff) {
			n++
		}
	}
	return float64(n) < minPerMinute*window.Minutes()
}

// Reset clears run state, counters and history. Options are kept.
func (m *Machine) Reset() {
	m.clearRun()
	m.total = 0
	m.lastBlink = time.Time{}
	m.lastOpen = time.Time{}
	m.openSince = time.Time{}
	m.history = m.history[:0]
	m.log.Info("blink: state machine reset")
}

func (m *Machine) clearRun() {
	m.runActive = false
	m.runStart = time.Time{}
	m.runFrames = 0
}

func (m *Machine) remember(ts time.Time) {
	if len(m.history) >= m.histCap {
		m.history = m.history[1:]
	}
	m.history = append(m.history, ts)
}
