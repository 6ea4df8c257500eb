package blink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// frameInterval is one frame at 15 fps.
const frameInterval = time.Second / 15

// frame returns baseTime advanced by n frames at 15 fps.
func frame(n int) time.Time {
	return baseTime.Add(time.Duration(n) * frameInterval)
}

func newMachine() *Machine {
	return NewMachine(DefaultOptions(), zap.NewNop())
}

// closeRun feeds a closed run of frames [from, from+n) and the reopening
// frame from+n, returning the result of the reopening frame.
func closeRun(m *Machine, from, n int) (Event, bool) {
	for i := 0; i < n; i++ {
		m.Process(true, frame(from+i))
	}
	return m.Process(false, frame(from+n))
}

func TestMachine_LongClosureIsNotABlink(t *testing.T) {
	m := newMachine()

	// 5 seconds of closed eyes at 15 fps.
	for i := 0; i < 75; i++ {
		_, ok := m.Process(true, frame(i))
		require.False(t, ok, "no event while closed")
	}
	_, ok := m.Process(false, frame(75))

	assert.False(t, ok)
	assert.Equal(t, 0, m.total)
	assert.Equal(t, StateOpen, m.State())
}

func TestMachine_ThreeFrameBlink(t *testing.T) {
	m := newMachine()

	ev, ok := closeRun(m, 0, 3)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ev.DurationMs, int64(133))
	assert.LessOrEqual(t, ev.DurationMs, int64(266))
	assert.Equal(t, frame(3), ev.Timestamp)
	assert.Equal(t, 1, m.total)

	// The run is cleared: further open frames emit nothing.
	_, ok = m.Process(false, frame(4))
	assert.False(t, ok)
	assert.Equal(t, 1, m.total)
}

func TestMachine_DurationGating(t *testing.T) {
	tests := []struct {
		name     string
		frames   int
		duration time.Duration
		want     bool
	}{
		{"exactly min", 2, 50 * time.Millisecond, true},
		{"min minus one", 2, 49 * time.Millisecond, false},
		{"exactly max", 2, 500 * time.Millisecond, true},
		{"max plus one", 2, 501 * time.Millisecond, false},
		{"mid range", 3, 200 * time.Millisecond, true},
		{"too few frames", 1, 200 * time.Millisecond, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine()
			for i := 0; i < tc.frames; i++ {
				m.Process(true, baseTime.Add(time.Duration(i)*time.Millisecond))
			}
			_, ok := m.Process(false, baseTime.Add(tc.duration))
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, tc.want, m.Qualifies(tc.frames, tc.duration.Milliseconds()))
		})
	}
}

func TestMachine_StateTransitions(t *testing.T) {
	m := newMachine()
	assert.Equal(t, StateOpen, m.State())

	m.Process(true, frame(0))
	assert.Equal(t, StateClosing, m.State())

	m.Process(false, frame(1)) // one frame: rejected, run cleared
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, 0, m.total)
}

func TestMachine_TotalIsMonotonic(t *testing.T) {
	m := newMachine()
	prev := 0
	at := 0
	runs := []int{3, 1, 3, 20, 2, 4}
	for _, n := range runs {
		_, ok := closeRun(m, at, n)
		got := m.total
		if ok {
			assert.Equal(t, prev+1, got)
		} else {
			assert.Equal(t, prev, got)
		}
		prev = got
		at += n + 5
	}
	assert.Equal(t, 4, m.total)
}

func TestMachine_LastOpenAndLastBlink(t *testing.T) {
	m := newMachine()
	_, ok := m.LastBlink()
	assert.False(t, ok)

	m.Process(false, frame(0))
	assert.Equal(t, frame(0), m.LastOpen())

	closeRun(m, 1, 3)
	last, ok := m.LastBlink()
	require.True(t, ok)
	assert.Equal(t, frame(4), last)
	assert.Equal(t, frame(4), m.LastOpen())
}

func TestMachine_IsOpenTooLong(t *testing.T) {
	m := newMachine()
	assert.False(t, m.IsOpenTooLong(20*time.Second, frame(1000)), "no blink yet")

	closeRun(m, 0, 3)
	assert.False(t, m.IsOpenTooLong(20*time.Second, frame(3).Add(20*time.Second)))
	assert.True(t, m.IsOpenTooLong(20*time.Second, frame(3).Add(21*time.Second)))
}

func TestMachine_IsLowRate(t *testing.T) {
	m := newMachine()
	assert.False(t, m.IsLowRate(12, time.Minute, baseTime), "no history")

	for i := 0; i < 5; i++ {
		closeRun(m, i*30, 3)
	}
	now := frame(5 * 30)
	assert.True(t, m.IsLowRate(12, time.Minute, now))
	assert.False(t, m.IsLowRate(5, time.Minute, now))
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine(Options{ConsecutiveFrames: 3, MinDuration: 10 * time.Millisecond, MaxDuration: time.Second}, nil)
	closeRun(m, 0, 4)
	m.Process(true, frame(10))
	require.Equal(t, 1, m.total)

	m.Reset()
	assert.Equal(t, 0, m.total)
	assert.Equal(t, StateOpen, m.State())
	_, ok := m.LastBlink()
	assert.False(t, ok)
	assert.Equal(t, 3, m.opts.ConsecutiveFrames, "options survive reset")
}

func TestMachine_BackwardsTimestampNeverQualifies(t *testing.T) {
	m := newMachine()
	m.Process(true, frame(10))
	m.Process(true, frame(11))
	_, ok := m.Process(false, frame(5))
	assert.False(t, ok)
}

func TestEvent_Duration(t *testing.T) {
	ev := Event{DurationMs: 150}
	assert.Equal(t, 150*time.Millisecond, ev.Duration())
}

func TestMachine_OpenFor(t *testing.T) {
	m := newMachine()
	assert.Equal(t, time.Duration(0), m.OpenFor(frame(10)), "no frame yet")

	m.Process(false, frame(0))
	m.Process(false, frame(1))
	assert.Equal(t, frame(5).Sub(frame(0)), m.OpenFor(frame(5)))

	m.Process(true, frame(6))
	assert.Equal(t, time.Duration(0), m.OpenFor(frame(7)), "closed")

	m.Process(false, frame(8))
	assert.Equal(t, frame(10).Sub(frame(8)), m.OpenFor(frame(10)), "stretch restarts on reopen")
	assert.Equal(t, time.Duration(0), m.OpenFor(frame(2)), "now before the stretch")

	m.Reset()
	assert.Equal(t, time.Duration(0), m.OpenFor(frame(10)))
}
