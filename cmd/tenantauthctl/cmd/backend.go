package cmd

import (
	"context"
	"errors"
	"io"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/auditstream"
	"github.com/goliatone/go-tenant-auth/cache"
	"github.com/goliatone/go-tenant-auth/config"
	"github.com/goliatone/go-tenant-auth/repository"
	"github.com/uptrace/bun"
)

var errNoBackend = errors.New("no store configured: set stores.redis_url or stores.database_dsn")

// backend is the store pair selected by the settings. Redis wins when both
// are configured.
type backend struct {
	kind        string
	revocations auth.RevocationStore
	attempts    auth.AttemptStore
	db          *bun.DB
	close       func() error
}

func openBackend(ctx context.Context, s *config.Settings) (*backend, error) {
	switch {
	case s.Stores.RedisURL != "":
		client, err := cache.Connect(ctx, s.Stores.RedisURL)
		if err != nil {
			return nil, err
		}
		prefix := cache.WithPrefix(s.Stores.RedisPrefix)
		return &backend{
			kind:        "redis",
			revocations: cache.NewRevocationStore(client, prefix),
			attempts:    cache.NewAttemptStore(client, prefix),
			close:       client.Close,
		}, nil

	case s.Stores.DatabaseDSN != "":
		db, err := config.OpenDatabase(ctx, s.Stores.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return &backend{
			kind:        "database",
			revocations: repository.NewRevocationStore(db),
			attempts:    repository.NewAttemptStore(db),
			db:          db,
			close:       db.Close,
		}, nil
	}
	return nil, errNoBackend
}

// auditor writes operator events as JSON lines to w and, with a database
// backend, to the audit_events table as well.
func (b *backend) auditor(w io.Writer, logger auth.Logger) *auth.Auditor {
	var sink auth.AuditSink = auditstream.NewJSONLineSink(w)
	if b.db != nil {
		sink = auth.MultiAuditSink{sink, repository.NewAuditEventSink(b.db)}
	}
	return auth.NewAuditor(sink, auth.WithAuditorLogger(logger))
}
