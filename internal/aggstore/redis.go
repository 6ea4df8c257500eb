package aggstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis stores the aggregate in a hash of daily counts and a string key
// holding the last trigger time.
type Redis struct {
	c      *redis.Client
	prefix string
}

// NewRedis wraps an existing client. Keys are written under prefix.
func NewRedis(c *redis.Client, prefix string) *Redis {
	return &Redis{c: c, prefix: prefix}
}

// DialRedis opens a client and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("aggstore: redis ping: %w", err)
	}
	return NewRedis(c, prefix), nil
}

func (r *Redis) dailyKey() string   { return r.prefix + "daily_counts" }
func (r *Redis) triggerKey() string { return r.prefix + "last_trigger_time" }

func (r *Redis) RecordBlink(ctx context.Context, ts time.Time) error {
	if err := r.c.HIncrBy(ctx, r.dailyKey(), DayKey(ts), 1).Err(); err != nil {
		return fmt.Errorf("aggstore: redis record blink: %w", err)
	}
	return nil
}

func (r *Redis) RecordTrigger(ctx context.Context, ts time.Time) error {
	if err := r.c.Set(ctx, r.triggerKey(), ts.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("aggstore: redis record trigger: %w", err)
	}
	return nil
}

func (r *Redis) Snapshot(ctx context.Context) (Aggregate, error) {
	raw, err := r.c.HGetAll(ctx, r.dailyKey()).Result()
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggstore: redis read counts: %w", err)
	}
	agg := Aggregate{DailyCounts: make(map[string]int, len(raw))}
	for day, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Aggregate{}, fmt.Errorf("aggstore: redis count for %s: %w", day, err)
		}
		agg.DailyCounts[day] = n
	}

	last, err := r.c.Get(ctx, r.triggerKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Aggregate{}, fmt.Errorf("aggstore: redis read last trigger: %w", err)
	default:
		ts, err := time.Parse(time.RFC3339Nano, last)
		if err != nil {
			return Aggregate{}, fmt.Errorf("aggstore: redis last trigger: %w", err)
		}
		agg.LastTrigger = &ts
	}
	return agg, nil
}

func (r *Redis) Close() error {
	return r.c.Close()
}
