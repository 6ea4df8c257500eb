package aggstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore fails the first failures writes, then delegates to a Memory.
type flakyStore struct {
	*Memory
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) RecordBlink(ctx context.Context, ts time.Time) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("unavailable")
	}
	f.mu.Unlock()
	return f.Memory.RecordBlink(ctx, ts)
}

func runAsync(t *testing.T, a *Async) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestAsync_DeliversRecords(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, 16, zap.NewNop())
	runAsync(t, a)

	a.RecordBlink(baseTime)
	a.RecordBlink(baseTime.Add(time.Second))
	a.RecordTrigger(baseTime.Add(2 * time.Second))

	assert.Eventually(t, func() bool {
		agg, _ := a.Snapshot(context.Background())
		return agg.DailyCounts["2026-01-01"] == 2 && agg.LastTrigger != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsync_EvictsOldestWhenFull(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, 2, zap.NewNop())

	a.RecordTrigger(baseTime)
	a.RecordTrigger(baseTime.Add(time.Minute))
	a.RecordTrigger(baseTime.Add(2 * time.Minute))

	assert.Equal(t, 2, a.Pending())
	assert.Equal(t, int64(1), a.Dropped())

	assert.Equal(t, 2, a.Flush(context.Background()))
	agg, err := mem.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, agg.LastTrigger)
	assert.Equal(t, baseTime.Add(2*time.Minute), *agg.LastTrigger)
}

func TestAsync_Disabled(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.RecordBlink(context.Background(), baseTime))

	a := NewAsync(mem, 4, nil)
	a.SetEnabled(false)
	assert.False(t, a.Enabled())

	a.RecordBlink(baseTime)
	a.RecordTrigger(baseTime)
	assert.Equal(t, 0, a.Pending())

	agg, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, agg.DailyCounts["2026-01-01"], "existing data is kept")

	a.SetEnabled(true)
	a.RecordBlink(baseTime)
	assert.Equal(t, 1, a.Pending())
}

func TestAsync_RetriesFailedWrites(t *testing.T) {
	store := &flakyStore{Memory: NewMemory(), failures: 2}
	a := NewAsync(store, 4, zap.NewNop())
	a.backoffInitial = time.Millisecond
	a.backoffMax = 5 * time.Millisecond
	runAsync(t, a)

	a.RecordBlink(baseTime)

	assert.Eventually(t, func() bool {
		agg, _ := store.Snapshot(context.Background())
		return agg.DailyCounts["2026-01-01"] == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Second, 60*time.Second)

	first := b.next()
	assert.LessOrEqual(t, first, 1250*time.Millisecond)
	for i := 0; i < 20; i++ {
		d := b.next()
		assert.LessOrEqual(t, d, 75*time.Second, "backoff[%d] exceeds max+jitter", i)
	}

	b.reset()
	assert.LessOrEqual(t, b.next(), 1250*time.Millisecond)
}

func TestBackoff_DoublesToLimit(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	b.jitter = func() float64 { return 0.5 } // no spread

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)
}
