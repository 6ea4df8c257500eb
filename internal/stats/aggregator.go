package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/blink"
	"github.com/blinkwatch/blinkwatch/internal/logger"
)

// rateWindow is the trailing window behind BlinksPerMinute.
const rateWindow = 60 * time.Second

// Stats is a point-in-time view of the session.
type Stats struct {
	Timestamp             time.Time `json:"timestamp"`
	TotalBlinks           int       `json:"total_blinks"`
	BlinksPerMinute       float64   `json:"blinks_per_minute"`
	BlinksLastMinute      int       `json:"blinks_last_minute"`
	SessionSeconds        float64   `json:"session_duration_seconds"`
	SecondsSinceLastBlink float64   `json:"time_since_last_blink_seconds"`

	// ConsecutiveOpenSeconds comes from the blink state machine's open
	// stretch; Aggregator.Snapshot leaves it zero.
	ConsecutiveOpenSeconds float64 `json:"consecutive_open_seconds"`
	AvgBlinkDurationMs     float64 `json:"avg_blink_duration_ms"`
}

// Aggregator accumulates blink events into rolling statistics.
//
// All exported methods are safe for concurrent use.
type Aggregator struct {
	log     *zap.Logger
	history *History

	mu           sync.Mutex
	total        int
	sessionStart time.Time
	lastBlink    time.Time
	durations    []durationEntry
}

type durationEntry struct {
	at time.Time
	ms int64
}

// NewAggregator starts a session at start with a history of the given
// capacity.
func NewAggregator(start time.Time, capacity int, log *zap.Logger) *Aggregator {
	return &Aggregator{
		log:          logger.OrNop(log),
		history:      NewHistory(capacity),
		sessionStart: start,
	}
}

// RecordBlink adds ev to the history and the lifetime count.
func (a *Aggregator) RecordBlink(ev blink.Event) {
	a.history.Add(ev.Timestamp)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.lastBlink = ev.Timestamp
	a.durations = append(a.durations, durationEntry{at: ev.Timestamp, ms: ev.DurationMs})
	a.pruneDurations(ev.Timestamp)
}

// Snapshot returns the statistics as of now.
func (a *Aggregator) Snapshot(now time.Time) Stats {
	lastMinute := a.history.CountAfter(now.Add(-rateWindow))

	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Timestamp:        now,
		TotalBlinks:      a.total,
		BlinksPerMinute:  float64(lastMinute),
		BlinksLastMinute: lastMinute,
		SessionSeconds:   nonNegative(now.Sub(a.sessionStart).Seconds()),
	}
	if !a.lastBlink.IsZero() {
		s.SecondsSinceLastBlink = nonNegative(now.Sub(a.lastBlink).Seconds())
	}

	cutoff := now.Add(-rateWindow)
	var sum int64
	var n int
	for _, d := range a.durations {
		if d.at.After(cutoff) {
			sum += d.ms
			n++
		}
	}
	if n > 0 {
		s.AvgBlinkDurationMs = float64(sum) / float64(n)
	}
	return s
}

// Reset clears history and the lifetime count and starts a new session at now.
func (a *Aggregator) Reset(now time.Time) {
	a.history.Clear()

	a.mu.Lock()
	a.total = 0
	a.sessionStart = now
	a.lastBlink = time.Time{}
	a.durations = nil
	a.mu.Unlock()

	a.log.Info("stats: session reset", zap.Time("session_start", now))
}

// pruneDurations drops duration samples older than the rate window.
func (a *Aggregator) pruneDurations(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(a.durations) && !a.durations[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		a.durations = append(a.durations[:0], a.durations[i:]...)
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
