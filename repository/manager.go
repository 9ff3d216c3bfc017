package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes every SQL backed store of the auth core
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Identities() Identities
	Tenants() Tenants
	Revocations() *RevocationStore
	Attempts() *AttemptStore
	AuditEvents() *AuditEventSink
}

type mngr struct {
	db          *bun.DB
	identities  Identities
	tenants     Tenants
	revocations *RevocationStore
	attempts    *AttemptStore
	auditEvents *AuditEventSink
}

func NewRepositoryManager(db *bun.DB, opts ...IdentitiesOption) Manager {
	return &mngr{
		db:          db,
		identities:  NewIdentitiesRepository(db, opts...),
		tenants:     NewTenantsRepository(db),
		revocations: NewRevocationStore(db),
		attempts:    NewAttemptStore(db),
		auditEvents: NewAuditEventSink(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.tenants == nil {
		return errors.New("repository tenants should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() Identities {
	return m.identities
}

func (m mngr) Tenants() Tenants {
	return m.tenants
}

func (m mngr) Revocations() *RevocationStore {
	return m.revocations
}

func (m mngr) Attempts() *AttemptStore {
	return m.attempts
}

func (m mngr) AuditEvents() *AuditEventSink {
	return m.auditEvents
}
