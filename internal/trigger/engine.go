package trigger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/stats"
)

// Reason identifies the rule that fired.
type Reason string

const (
	ReasonNoBlinkGap Reason = "no_blink_gap"
	ReasonLowRate    Reason = "low_rate"
)

// Decision is an alert request for the notification sink.
type Decision struct {
	ID      string    `json:"id"`
	Reason  Reason    `json:"reason"`
	Mode    string    `json:"mode"`
	Message string    `json:"message"`
	FiredAt time.Time `json:"fired_at"`
}

// Recorder receives privacy-preserving notifications: a timestamp per blink
// and per fired alert, nothing else. Implementations must not block.
type Recorder interface {
	RecordBlink(ts time.Time)
	RecordTrigger(ts time.Time)
}

type nopRecorder struct{}

func (nopRecorder) RecordBlink(time.Time)   {}
func (nopRecorder) RecordTrigger(time.Time) {}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the clock used by the pause operations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder attaches the aggregate-store collaborator.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithHistoryCapacity bounds the trigger-local blink history.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) { e.history = stats.NewHistory(n) }
}

// Engine evaluates trigger rules against statistics snapshots.
//
// Engine is safe for concurrent use: OnBlink, Evaluate and the pause
// operations may be called from different goroutines.
type Engine struct {
	log      *zap.Logger
	now      func() time.Time
	recorder Recorder
	history  *stats.History

	settings atomic.Pointer[Settings]

	mu          sync.Mutex
	lastTrigger time.Time
	pauseUntil  time.Time
}

// New returns an Engine using s as its initial settings.
func New(s Settings, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:      logger.OrNop(log),
		now:      time.Now,
		recorder: nopRecorder{},
		history:  stats.NewHistory(stats.DefaultHistoryCapacity),
	}
	for _, o := range opts {
		o(e)
	}
	e.settings.Store(&s)
	return e
}

// OnBlink records a blink at ts and forwards it to the recorder.
func (e *Engine) OnBlink(ts time.Time) {
	e.history.Add(ts)
	e.recorder.RecordBlink(ts)
}

// Evaluate runs one evaluation cycle. It returns a Decision and true when an
// alert fires; the cooldown clock restarts at now.
func (e *Engine) Evaluate(st stats.Stats, now time.Time) (Decision, bool) {
	s := e.settings.Load()

	if e.IsPaused(now) {
		return Decision{}, false
	}
	if s.QuietHours.Contains(now) {
		e.log.Debug("trigger: quiet hours, suppressing")
		return Decision{}, false
	}

	reason, msg, fires := e.resolve(s, st, now)
	if !fires {
		return Decision{}, false
	}

	e.mu.Lock()
	if !e.lastTrigger.IsZero() && now.Sub(e.lastTrigger) < s.Cooldown() {
		elapsed := now.Sub(e.lastTrigger)
		e.mu.Unlock()
		e.log.Debug("trigger: cooldown, suppressing",
			zap.String("reason", string(reason)),
			zap.Duration("elapsed", elapsed),
			zap.Duration("cooldown", s.Cooldown()),
		)
		return Decision{}, false
	}
	e.lastTrigger = now
	e.mu.Unlock()

	e.recorder.RecordTrigger(now)

	d := Decision{
		ID:      uuid.NewString(),
		Reason:  reason,
		Mode:    s.AlertMode,
		Message: msg,
		FiredAt: now,
	}
	e.log.Warn("trigger: alert fired",
		zap.String("reason", string(reason)),
		zap.String("mode", s.AlertMode),
		zap.String("message", msg),
	)
	return d, true
}

// resolve applies the mode to the two rule conditions.
func (e *Engine) resolve(s *Settings, st stats.Stats, now time.Time) (Reason, string, bool) {
	noBlink := st.SecondsSinceLastBlink >= s.NoBlinkSeconds
	lowRate := e.lowRate(s, st, now)

	switch s.Mode {
	case ModeNoBlink:
		if noBlink {
			return ReasonNoBlinkGap, "no blink gap exceeded", true
		}
	case ModeLowRate:
		if lowRate {
			return ReasonLowRate, "blink rate below threshold", true
		}
	default:
		if noBlink {
			return ReasonNoBlinkGap, "no blink gap exceeded (priority)", true
		}
		if lowRate {
			return ReasonLowRate, "sustained low blink rate", true
		}
	}
	return "", "", false
}

// lowRate is true when the session already covers the window and the blinks
// inside it fall short of threshold*minutes. Too short a session never fires.
func (e *Engine) lowRate(s *Settings, st stats.Stats, now time.Time) bool {
	window := s.LowRateWindow()
	if window <= 0 || st.SessionSeconds < window.Seconds() {
		return false
	}
	n := e.history.CountSince(now.Add(-window))
	return float64(n) < s.LowRateThreshold*float64(s.LowRateDurationMinutes)
}

// UpdateSettings atomically replaces the settings snapshot.
func (e *Engine) UpdateSettings(s Settings) {
	e.settings.Store(&s)
	e.log.Info("trigger: settings updated",
		zap.String("mode", string(s.Mode)),
		zap.Float64("no_blink_seconds", s.NoBlinkSeconds),
		zap.Float64("low_rate_threshold", s.LowRateThreshold),
		zap.Int("low_rate_duration_minutes", s.LowRateDurationMinutes),
		zap.Int("alert_interval_minutes", s.AlertIntervalMinutes),
		zap.Bool("quiet_hours", s.QuietHours.Enabled),
	)
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// PauseFor suppresses evaluation for d from the engine clock's now.
func (e *Engine) PauseFor(d time.Duration) time.Time {
	until := e.now().Add(d)
	e.setPause(until)
	e.log.Info("trigger: paused", zap.Duration("for", d), zap.Time("until", until))
	return until
}

// PauseUntilTomorrow suppresses evaluation until the next local midnight.
func (e *Engine) PauseUntilTomorrow() time.Time {
	until := nextMidnight(e.now())
	e.setPause(until)
	e.log.Info("trigger: paused until tomorrow", zap.Time("until", until))
	return until
}

// Resume clears any pause.
func (e *Engine) Resume() {
	e.setPause(time.Time{})
	e.log.Info("trigger: resumed")
}

// IsPaused reports whether a pause is still in effect at now.
func (e *Engine) IsPaused(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.pauseUntil.IsZero() && now.Before(e.pauseUntil)
}

// PauseRemaining returns how long the pause still lasts at now.
func (e *Engine) PauseRemaining(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pauseUntil.IsZero() || !now.Before(e.pauseUntil) {
		return 0
	}
	return e.pauseUntil.Sub(now)
}

// LastTrigger returns when the last alert fired, if ever.
func (e *Engine) LastTrigger() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTrigger, !e.lastTrigger.IsZero()
}

func (e *Engine) setPause(until time.Time) {
	e.mu.Lock()
	e.pauseUntil = until
	e.mu.Unlock()
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
