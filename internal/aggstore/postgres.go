package aggstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS blink_daily_counts (
	day    TEXT PRIMARY KEY,
	blinks INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS blink_last_trigger (
	id           SMALLINT PRIMARY KEY,
	triggered_at TIMESTAMPTZ NOT NULL
);`

const (
	incrementDaily = `INSERT INTO blink_daily_counts (day, blinks) VALUES ($1, 1)
ON CONFLICT (day) DO UPDATE SET blinks = blink_daily_counts.blinks + 1`

	upsertTrigger = `INSERT INTO blink_last_trigger (id, triggered_at) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET triggered_at = EXCLUDED.triggered_at`

	selectDaily   = `SELECT day, blinks FROM blink_daily_counts ORDER BY day`
	selectTrigger = `SELECT triggered_at FROM blink_last_trigger WHERE id = 1`
)

// Postgres stores the aggregate in two small tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects with the lib/pq driver and creates the tables.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("aggstore: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("aggstore: ping postgres: %w", err)
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("aggstore: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) RecordBlink(ctx context.Context, ts time.Time) error {
	if _, err := p.db.ExecContext(ctx, incrementDaily, DayKey(ts)); err != nil {
		return fmt.Errorf("aggstore: postgres record blink: %w", err)
	}
	return nil
}

func (p *Postgres) RecordTrigger(ctx context.Context, ts time.Time) error {
	if _, err := p.db.ExecContext(ctx, upsertTrigger, ts); err != nil {
		return fmt.Errorf("aggstore: postgres record trigger: %w", err)
	}
	return nil
}

func (p *Postgres) Snapshot(ctx context.Context) (Aggregate, error) {
	rows, err := p.db.QueryContext(ctx, selectDaily)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggstore: postgres read counts: %w", err)
	}
	defer rows.Close()

	agg := Aggregate{DailyCounts: make(map[string]int)}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return Aggregate{}, fmt.Errorf("aggstore: postgres scan count: %w", err)
		}
		agg.DailyCounts[day] = n
	}
	if err := rows.Err(); err != nil {
		return Aggregate{}, fmt.Errorf("aggstore: postgres read counts: %w", err)
	}

	var last time.Time
	err = p.db.QueryRowContext(ctx, selectTrigger).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Aggregate{}, fmt.Errorf("aggstore: postgres read last trigger: %w", err)
	default:
		agg.LastTrigger = &last
	}
	return agg, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
