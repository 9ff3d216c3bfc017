package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/uptrace/bun"
)

// IncrementAttemptSQL adds one failure to a counter, starting a new window
// when the stored one has elapsed. Window and instants are unix nanoseconds.
var IncrementAttemptSQL = `INSERT INTO "login_attempts" ("attempt_key", "attempt_count", "window_start")
VALUES (?, 1, ?)
ON CONFLICT ("attempt_key") DO UPDATE
SET
	"attempt_count" = CASE
		WHEN ? > 0 AND "login_attempts"."window_start" + ? <= ? THEN 1
		ELSE "login_attempts"."attempt_count" + 1
	END,
	"window_start" = CASE
		WHEN ? > 0 AND "login_attempts"."window_start" + ? <= ? THEN excluded."window_start"
		ELSE "login_attempts"."window_start"
	END;`

// AttemptRecord is the bun model for failed login counters
type AttemptRecord struct {
	bun.BaseModel `bun:"table:login_attempts,alias:att"`

	Key         string `bun:"attempt_key,pk"`
	Count       int    `bun:"attempt_count,notnull"`
	WindowStart int64  `bun:"window_start,notnull"`
}

func (r *AttemptRecord) toCounter() auth.AttemptCounter {
	return auth.AttemptCounter{
		Key:         r.Key,
		Count:       r.Count,
		WindowStart: time.Unix(0, r.WindowStart).UTC(),
	}
}

// AttemptStore implements auth.AttemptStore with a single upsert so
// concurrent failures for one key never lose an increment.
type AttemptStore struct {
	db *bun.DB
}

var _ auth.AttemptStore = (*AttemptStore)(nil)

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (auth.AttemptCounter, error) {
	var counter auth.AttemptCounter
	nowNano, windowNano := now.UnixNano(), int64(window)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewRaw(IncrementAttemptSQL,
			key, nowNano,
			windowNano, windowNano, nowNano,
			windowNano, windowNano, nowNano,
		).Exec(ctx)
		if err != nil {
			return err
		}

		counter, err = s.getTx(ctx, tx, key)
		return err
	})
	if err != nil {
		return auth.AttemptCounter{}, err
	}
	return counter, nil
}

func (s *AttemptStore) Get(ctx context.Context, key string) (auth.AttemptCounter, error) {
	return s.getTx(ctx, s.db, key)
}

func (s *AttemptStore) getTx(ctx context.Context, tx bun.IDB, key string) (auth.AttemptCounter, error) {
	record := &AttemptRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.attempt_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.AttemptCounter{Key: key}, nil
		}
		return auth.AttemptCounter{}, err
	}
	return record.toCounter(), nil
}

func (s *AttemptStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*AttemptRecord)(nil)).
		Where("attempt_key = ?", key).
		Exec(ctx)
	return err
}
