package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/uptrace/bun"
)

// AdvanceRevocationSQL upserts a revocation keeping the latest revoked_at.
// Instants are unix nanoseconds.
var AdvanceRevocationSQL = `INSERT INTO "revocations" ("scope", "revocation_key", "revoked_at", "retain_until", "reason")
VALUES (?, ?, ?, ?, ?)
ON CONFLICT ("scope", "revocation_key") DO UPDATE
SET
	"reason" = CASE
		WHEN excluded."revoked_at" > "revocations"."revoked_at" THEN excluded."reason"
		ELSE "revocations"."reason"
	END,
	"retain_until" = CASE
		WHEN excluded."retain_until" > "revocations"."retain_until" THEN excluded."retain_until"
		ELSE "revocations"."retain_until"
	END,
	"revoked_at" = CASE
		WHEN excluded."revoked_at" > "revocations"."revoked_at" THEN excluded."revoked_at"
		ELSE "revocations"."revoked_at"
	END;`

// RevocationRecord is the bun model for revocation entries. Instants are
// stored as unix nanoseconds so comparisons survive every dialect.
type RevocationRecord struct {
	bun.BaseModel `bun:"table:revocations,alias:rev"`

	Scope       string `bun:"scope,pk"`
	Key         string `bun:"revocation_key,pk"`
	RevokedAt   int64  `bun:"revoked_at,notnull"`
	RetainUntil int64  `bun:"retain_until,notnull"`
	Reason      string `bun:"reason"`
}

func (r *RevocationRecord) toEntry() auth.RevocationEntry {
	return auth.RevocationEntry{
		Scope:       auth.RevocationScope(r.Scope),
		Key:         r.Key,
		RevokedAt:   time.Unix(0, r.RevokedAt).UTC(),
		RetainUntil: time.Unix(0, r.RetainUntil).UTC(),
		Reason:      r.Reason,
	}
}

// RevocationStore implements auth.RevocationStore on a SQL table
type RevocationStore struct {
	db *bun.DB
}

var _ auth.RevocationStore = (*RevocationStore)(nil)

func NewRevocationStore(db *bun.DB) *RevocationStore {
	return &RevocationStore{db: db}
}

// Put inserts entry and leaves an existing row for the same scope and key
// alone. User scope rows move forward to the latest revocation instant.
func (s *RevocationStore) Put(ctx context.Context, entry auth.RevocationEntry) error {
	if entry.Scope == auth.ScopeUser {
		_, err := s.db.NewRaw(AdvanceRevocationSQL,
			string(entry.Scope), entry.Key,
			entry.RevokedAt.UnixNano(), entry.RetainUntil.UnixNano(), entry.Reason,
		).Exec(ctx)
		return err
	}

	record := &RevocationRecord{
		Scope:       string(entry.Scope),
		Key:         entry.Key,
		RevokedAt:   entry.RevokedAt.UnixNano(),
		RetainUntil: entry.RetainUntil.UnixNano(),
		Reason:      entry.Reason,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (scope, revocation_key) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *RevocationStore) Get(ctx context.Context, scope auth.RevocationScope, key string) (auth.RevocationEntry, bool, error) {
	record := &RevocationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.scope = ?", string(scope)).
		Where("?TableAlias.revocation_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.RevocationEntry{}, false, nil
		}
		return auth.RevocationEntry{}, false, err
	}
	return record.toEntry(), true, nil
}

// Purge deletes entries whose retention ended before now
func (s *RevocationStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*RevocationRecord)(nil)).
		Where("retain_until < ?", now.UnixNano()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
