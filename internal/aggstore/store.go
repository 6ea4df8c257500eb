package aggstore

import (
	"context"
	"sync"
	"time"
)

// dayLayout keys daily counts.
const dayLayout = "2006-01-02"

// Aggregate is the full persisted state.
type Aggregate struct {
	DailyCounts map[string]int `json:"daily_counts"`
	LastTrigger *time.Time     `json:"last_trigger_time,omitempty"`
}

// Store persists aggregate counters.
type Store interface {
	// RecordBlink increments the count for ts's calendar day.
	RecordBlink(ctx context.Context, ts time.Time) error
	// RecordTrigger overwrites the last trigger time.
	RecordTrigger(ctx context.Context, ts time.Time) error
	Snapshot(ctx context.Context) (Aggregate, error)
	Close() error
}

// DayKey returns the daily-count key for ts in ts's location.
func DayKey(ts time.Time) string {
	return ts.Format(dayLayout)
}

// Memory is an in-process Store. It is the default backend and is what
// tests use in place of a database.
type Memory struct {
	mu    sync.RWMutex
	daily map[string]int
	last  time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{daily: make(map[string]int)}
}

func (m *Memory) RecordBlink(_ context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[DayKey(ts)]++
	return nil
}

func (m *Memory) RecordTrigger(_ context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = ts
	return nil
}

func (m *Memory) Snapshot(context.Context) (Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := Aggregate{DailyCounts: make(map[string]int, len(m.daily))}
	for k, v := range m.daily {
		agg.DailyCounts[k] = v
	}
	if !m.last.IsZero() {
		last := m.last
		agg.LastTrigger = &last
	}
	return agg, nil
}

func (m *Memory) Close() error { return nil }
