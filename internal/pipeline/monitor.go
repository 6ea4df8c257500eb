package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/blink"
	"github.com/blinkwatch/blinkwatch/internal/eye"
	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/notify"
	"github.com/blinkwatch/blinkwatch/internal/stats"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultEvaluateInterval = time.Second
	DefaultEventBuffer      = 64
)

// Frame is one captured frame's eye geometry.
type Frame struct {
	// Timestamp of the capture. Zero means Monitor.Now.
	Timestamp time.Time    `json:"timestamp"`
	Left      eye.Geometry `json:"left"`
	Right     eye.Geometry `json:"right"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Timestamp time.Time    `json:"timestamp"`
	Sample    eye.Sample   `json:"sample"`
	State     blink.State  `json:"state"`
	Blink     *blink.Event `json:"blink,omitempty"`
}

// EventKind discriminates Event.
type EventKind string

const (
	EventBlink EventKind = "blink"
	EventAlert EventKind = "alert"
)

// Event is a blink or a fired alert.
type Event struct {
	Kind     EventKind         `json:"kind"`
	Blink    *blink.Event      `json:"blink,omitempty"`
	Decision *trigger.Decision `json:"decision,omitempty"`
}

// Options configures a Monitor.
type Options struct {
	Analyzer eye.Options
	Blink    blink.Options
	Trigger  trigger.Settings

	// HistoryCapacity bounds the statistics and trigger blink histories.
	HistoryCapacity int

	EvaluateInterval  time.Duration
	CalibrationWindow time.Duration

	// EventBuffer is the depth of the Events channel.
	EventBuffer int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRecorder forwards blink and trigger timestamps to r.
func WithRecorder(r trigger.Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// Monitor is the detection pipeline for one stream.
//
// Frame timestamps are the only time base: Now is the wall clock shifted by
// the offset of the latest frame, and evaluation, statistics, pauses and
// calibration all read it.
type Monitor struct {
	log      *zap.Logger
	now      func() time.Time
	sink     notify.Sink
	recorder trigger.Recorder
	opts     Options

	// offset is the latest frame timestamp minus the wall clock at its
	// arrival, in nanoseconds.
	offset atomic.Int64

	mu       sync.Mutex
	analyzer *eye.Analyzer
	machine  *blink.Machine
	calib    *eye.Calibrator
	// calibWindow is a requested calibration waiting for its first frame.
	calibWindow time.Duration
	// started is set by the first frame of a session.
	started bool

	agg    *stats.Aggregator
	engine *trigger.Engine
	events chan Event

	alertMu sync.Mutex
	alerts  map[trigger.Reason]int
}

// New builds a Monitor. A nil sink discards decisions.
func New(opts Options, sink notify.Sink, log *zap.Logger, options ...Option) *Monitor {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = stats.DefaultHistoryCapacity
	}
	if opts.EvaluateInterval <= 0 {
		opts.EvaluateInterval = DefaultEvaluateInterval
	}
	if opts.CalibrationWindow <= 0 {
		opts.CalibrationWindow = eye.DefaultCalibrationWindow
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if sink == nil {
		sink = notify.Nop{}
	}

	log = logger.OrNop(log)
	m := &Monitor{
		log:    log,
		now:    time.Now,
		sink:   sink,
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		alerts: make(map[trigger.Reason]int),
	}
	for _, o := range options {
		o(m)
	}

	m.analyzer = eye.NewAnalyzer(opts.Analyzer, log.Named("eye"))
	m.machine = blink.NewMachine(opts.Blink, log.Named("blink"))
	m.agg = stats.NewAggregator(m.now(), opts.HistoryCapacity, log.Named("stats"))
	m.engine = trigger.New(opts.Trigger, log.Named("trigger"),
		trigger.WithClock(m.Now),
		trigger.WithRecorder(m.recorder),
		trigger.WithHistoryCapacity(opts.HistoryCapacity),
	)
	return m
}

// ProcessFrame analyzes one frame of eye geometry.
func (m *Monitor) ProcessFrame(f Frame) FrameResult {
	ts := m.stamp(f.Timestamp)
	m.mu.Lock()
	sample := m.analyzer.Analyze(f.Left, f.Right)
	return m.advance(sample, ts)
}

// ProcessRatios analyzes one frame given raw EAR values.
func (m *Monitor) ProcessRatios(left, right float64, ts time.Time) FrameResult {
	ts = m.stamp(ts)
	m.mu.Lock()
	sample := m.analyzer.AnalyzeRatios(left, right)
	return m.advance(sample, ts)
}

// advance runs the rest of the frame path. It is called with m.mu held and
// releases it.
func (m *Monitor) advance(sample eye.Sample, ts time.Time) FrameResult {
	m.offset.Store(int64(ts.Sub(m.now())))
	if !m.started {
		m.started = true
		m.agg.Reset(ts)
	}

	if m.calibWindow > 0 {
		m.calib = eye.NewCalibrator(ts, m.calibWindow)
		m.calibWindow = 0
	}
	if m.calib != nil {
		m.calib.Add(sample.AvgEAR, ts)
		if m.calib.Done(ts) {
			m.calib.Finish(m.analyzer)
			m.calib = nil
		}
	}
	ev, ok := m.machine.Process(sample.BothClosed(), ts)
	state := m.machine.State()
	m.mu.Unlock()

	res := FrameResult{Timestamp: ts, Sample: sample, State: state}
	if ok {
		m.agg.RecordBlink(ev)
		m.engine.OnBlink(ev.Timestamp)
		res.Blink = &ev
		m.emit(Event{Kind: EventBlink, Blink: &ev})
	}
	return res
}

func (m *Monitor) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return m.Now()
	}
	return ts
}

// Now returns the current time on the frame clock. Before the first frame it
// is the wall clock.
func (m *Monitor) Now() time.Time {
	return m.now().Add(time.Duration(m.offset.Load()))
}

// Events returns the blink and alert stream. When the consumer falls behind
// the oldest events are dropped.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

func (m *Monitor) emit(e Event) {
	select {
	case m.events <- e:
	default:
		select {
		case <-m.events:
			m.log.Warn("pipeline: event buffer full, evicted oldest event",
				zap.Int("buffer_cap", cap(m.events)))
		default:
		}
		select {
		case m.events <- e:
		default:
		}
	}
}

// Evaluate runs one trigger cycle at Now. A fired decision is emitted and
// delivered to the sink; sink errors are logged.
func (m *Monitor) Evaluate(ctx context.Context) (trigger.Decision, bool) {
	d, ok := m.engine.Evaluate(m.Stats(), m.Now())
	if !ok {
		return d, false
	}

	m.alertMu.Lock()
	m.alerts[d.Reason]++
	m.alertMu.Unlock()

	m.emit(Event{Kind: EventAlert, Decision: &d})
	if err := m.sink.Notify(ctx, d); err != nil {
		m.log.Error("pipeline: alert delivery failed", zap.String("id", d.ID), zap.Error(err))
	}
	return d, true
}

// Run evaluates the trigger rules every EvaluateInterval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.opts.EvaluateInterval)
	defer t.Stop()

	m.log.Info("pipeline: running", zap.Duration("evaluate_interval", m.opts.EvaluateInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Evaluate(ctx)
		}
	}
}

// Stats returns the statistics snapshot at Now.
func (m *Monitor) Stats() stats.Stats {
	return m.statsAt(m.Now())
}

func (m *Monitor) statsAt(now time.Time) stats.Stats {
	st := m.agg.Snapshot(now)
	m.mu.Lock()
	st.ConsecutiveOpenSeconds = m.machine.OpenFor(now).Seconds()
	m.mu.Unlock()
	return st
}

// Pause suppresses alerts for d and returns when the pause ends.
func (m *Monitor) Pause(d time.Duration) time.Time {
	return m.engine.PauseFor(d)
}

// PauseUntilTomorrow suppresses alerts until the next local midnight.
func (m *Monitor) PauseUntilTomorrow() time.Time {
	return m.engine.PauseUntilTomorrow()
}

// Resume clears any pause.
func (m *Monitor) Resume() {
	m.engine.Resume()
}

// UpdateSettings swaps the trigger settings. s must already be validated.
func (m *Monitor) UpdateSettings(s trigger.Settings) {
	m.engine.UpdateSettings(s)
}

// Settings returns the current trigger settings.
func (m *Monitor) Settings() trigger.Settings {
	return m.engine.Settings()
}

// SetThreshold overrides the closure threshold and returns the clamped value.
func (m *Monitor) SetThreshold(v float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzer.SetThreshold(v)
	return m.analyzer.Threshold()
}

// Threshold returns the current closure threshold.
func (m *Monitor) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzer.Threshold()
}

// Calibrate requests a calibration over window (zero means the configured
// window). Collection starts at the next frame's timestamp and the threshold
// is replaced by the first frame past the window. The returned deadline is
// the expected end on the frame clock.
func (m *Monitor) Calibrate(window time.Duration) time.Time {
	if window <= 0 {
		window = m.opts.CalibrationWindow
	}
	m.mu.Lock()
	m.calib = nil
	m.calibWindow = window
	m.mu.Unlock()
	m.log.Info("pipeline: calibration requested", zap.Duration("window", window))
	return m.Now().Add(window)
}

// Calibrating reports whether a calibration is pending or collecting samples.
func (m *Monitor) Calibrating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calib != nil || m.calibWindow > 0
}

// Reset clears detection state and starts a new statistics session, which
// the next frame restarts at its own timestamp. Trigger settings, pause and
// cooldown are kept.
func (m *Monitor) Reset() {
	now := m.Now()
	m.mu.Lock()
	m.analyzer.Reset()
	m.machine.Reset()
	m.calib = nil
	m.calibWindow = 0
	m.started = false
	m.mu.Unlock()
	m.agg.Reset(now)
}

// Status is a full view of the monitor for diagnostics.
type Status struct {
	Stats                 stats.Stats      `json:"stats"`
	State                 blink.State      `json:"state"`
	Threshold             float64          `json:"threshold"`
	Baseline              *float64         `json:"baseline,omitempty"`
	Calibrating           bool             `json:"calibrating"`
	LastOpen              *time.Time       `json:"last_open,omitempty"`
	OpenTooLong           bool             `json:"open_too_long"`
	LowRate               bool             `json:"low_rate"`
	Paused                bool             `json:"paused"`
	PauseRemainingSeconds float64          `json:"pause_remaining_seconds"`
	LastTrigger           *time.Time       `json:"last_trigger,omitempty"`
	Alerts                map[string]int   `json:"alerts"`
	Settings              trigger.Settings `json:"settings"`
}

// Snapshot returns the monitor status at Now.
func (m *Monitor) Snapshot() Status {
	now := m.Now()
	settings := m.engine.Settings()
	st := Status{
		Stats:    m.statsAt(now),
		Paused:   m.engine.IsPaused(now),
		Settings: settings,
		Alerts:   make(map[string]int),
	}
	st.PauseRemainingSeconds = m.engine.PauseRemaining(now).Seconds()
	if last, ok := m.engine.LastTrigger(); ok {
		st.LastTrigger = &last
	}

	m.mu.Lock()
	st.State = m.machine.State()
	st.Threshold = m.analyzer.Threshold()
	if b, ok := m.analyzer.Baseline(); ok {
		st.Baseline = &b
	}
	st.Calibrating = m.calib != nil || m.calibWindow > 0
	if last := m.machine.LastOpen(); !last.IsZero() {
		st.LastOpen = &last
	}
	noBlink := time.Duration(settings.NoBlinkSeconds * float64(time.Second))
	st.OpenTooLong = m.machine.IsOpenTooLong(noBlink, now)
	st.LowRate = m.machine.IsLowRate(settings.LowRateThreshold, settings.LowRateWindow(), now)
	m.mu.Unlock()

	m.alertMu.Lock()
	for r, n := range m.alerts {
		st.Alerts[string(r)] = n
	}
	m.alertMu.Unlock()
	return st
}
