package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

// Sink renders or forwards an alert decision.
type Sink interface {
	Notify(ctx context.Context, d trigger.Decision) error
}

// Nop discards every decision.
type Nop struct{}

func (Nop) Notify(context.Context, trigger.Decision) error { return nil }

// Log writes decisions to a zap logger.
type Log struct {
	log *zap.Logger
}

// NewLog returns a Sink logging at info level.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: logger.OrNop(log)}
}

func (l *Log) Notify(_ context.Context, d trigger.Decision) error {
	l.log.Info("notify: alert",
		zap.String("id", d.ID),
		zap.String("reason", string(d.Reason)),
		zap.String("mode", d.Mode),
		zap.String("message", d.Message),
		zap.Time("fired_at", d.FiredAt),
	)
	return nil
}

// Multi delivers to every sink in order. A failing sink is logged and does
// not stop delivery to the rest; all failures are returned joined.
type Multi struct {
	sinks []Sink
	log   *zap.Logger
}

// NewMulti returns a fan-out over sinks. Nil sinks are skipped.
func NewMulti(log *zap.Logger, sinks ...Sink) *Multi {
	m := &Multi{log: logger.OrNop(log)}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, d trigger.Decision) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, d); err != nil {
			m.log.Error("notify: delivery failed",
				zap.String("id", d.ID),
				zap.String("reason", string(d.Reason)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
