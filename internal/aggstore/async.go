package aggstore

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
)

const writeTimeout = 5 * time.Second

type kind uint8

const (
	kindBlink kind = iota
	kindTrigger
)

type record struct {
	kind kind
	ts   time.Time
}

// Async queues records for a Store and writes them from Run.
// RecordBlink and RecordTrigger never block; when the buffer is full the
// oldest pending record is evicted.
type Async struct {
	store   Store
	log     *zap.Logger
	buf     chan record
	enabled atomic.Bool
	dropped atomic.Int64

	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewAsync returns an enabled Async holding up to size pending records.
func NewAsync(store Store, size int, log *zap.Logger) *Async {
	if size < 1 {
		size = 1
	}
	a := &Async{
		store:          store,
		log:            logger.OrNop(log),
		buf:            make(chan record, size),
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
	}
	a.enabled.Store(true)
	return a
}

// RecordBlink queues a blink at ts.
func (a *Async) RecordBlink(ts time.Time) {
	a.enqueue(record{kind: kindBlink, ts: ts})
}

// RecordTrigger queues an alert at ts.
func (a *Async) RecordTrigger(ts time.Time) {
	a.enqueue(record{kind: kindTrigger, ts: ts})
}

// SetEnabled toggles recording. Disabling keeps existing data but stops
// accepting new records.
func (a *Async) SetEnabled(enabled bool) {
	if a.enabled.Swap(enabled) != enabled && !enabled {
		a.log.Info("aggstore: disabled, keeping existing data")
	}
}

// Enabled reports whether new records are accepted.
func (a *Async) Enabled() bool {
	return a.enabled.Load()
}

// Dropped returns how many records were evicted from a full buffer.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Pending returns the number of queued records.
func (a *Async) Pending() int {
	return len(a.buf)
}

// Snapshot reads the aggregate from the underlying store.
func (a *Async) Snapshot(ctx context.Context) (Aggregate, error) {
	return a.store.Snapshot(ctx)
}

func (a *Async) enqueue(r record) {
	if !a.enabled.Load() {
		return
	}
	select {
	case a.buf <- r:
	default:
		// Buffer full: drop the oldest record, keep the newest.
		select {
		case <-a.buf:
			a.dropped.Add(1)
			a.log.Warn("aggstore: buffer full, evicted oldest record",
				zap.Int("buffer_cap", cap(a.buf)))
		default:
		}
		select {
		case a.buf <- r:
		default:
		}
	}
}

// Run drains the buffer into the store until ctx is cancelled. A failed
// write is retried with exponential backoff.
func (a *Async) Run(ctx context.Context) {
	bo := newBackoff(a.backoffInitial, a.backoffMax)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-a.buf:
			for {
				err := a.write(ctx, r)
				if err == nil {
					bo.reset()
					break
				}
				wait := bo.next()
				a.log.Error("aggstore: write failed, will retry",
					zap.Error(err), zap.Duration("retry_in", wait))
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
	}
}

// Flush writes every queued record once, without retries, and returns the
// number written. Used on shutdown after Run has stopped.
func (a *Async) Flush(ctx context.Context) int {
	n := 0
	for {
		select {
		case r := <-a.buf:
			if err := a.write(ctx, r); err != nil {
				a.log.Error("aggstore: flush write failed", zap.Error(err))
				continue
			}
			n++
		default:
			return n
		}
	}
}

func (a *Async) write(ctx context.Context, r record) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if r.kind == kindTrigger {
		return a.store.RecordTrigger(wctx, r.ts)
	}
	return a.store.RecordBlink(wctx, r.ts)
}
