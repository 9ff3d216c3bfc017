package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Identities is the bun backed identity repository. Every read and write is
// filtered by tenant scope.
type Identities interface {
	repository.Repository[*auth.Identity]
	auth.IdentityRepository
	auth.IdentityStatusWriter

	Register(ctx context.Context, identity *auth.Identity) (*auth.Identity, error)
	RegisterTx(ctx context.Context, tx bun.IDB, identity *auth.Identity) (*auth.Identity, error)
	FindBySubjectTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string) (*auth.Identity, error)
	FindByIdentifierTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, identifier string) (*auth.Identity, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string, status auth.IdentityStatus, reason string) error
	MarkDeletedTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string) error
}

type identities struct {
	repository.Repository[*auth.Identity]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Identities                            = (*identities)(nil)
	_ auth.IdentityRepository               = (*identities)(nil)
	_ repository.Repository[*auth.Identity] = (*identities)(nil)
)

// IdentitiesOption configures the identity repository
type IdentitiesOption func(*identities)

// WithIdentitiesClock overrides the clock used for updated_at
func WithIdentitiesClock(now func() time.Time) IdentitiesOption {
	return func(i *identities) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIdentitiesRepository(db *bun.DB, opts ...IdentitiesOption) Identities {
	repo := repository.NewRepository[*auth.Identity](db, repository.ModelHandlers[*auth.Identity]{
		NewRecord: func() *auth.Identity { return &auth.Identity{} },
		GetID: func(i *auth.Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *auth.Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "identifier"
		},
	})

	out := &identities{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	return out
}

func (r *identities) Register(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	return r.RegisterTx(ctx, r.db, identity)
}

// RegisterTx stores a new identity with a normalized identifier. Identities
// start pending unless a status is given.
func (r *identities) RegisterTx(ctx context.Context, tx bun.IDB, identity *auth.Identity) (*auth.Identity, error) {
	if identity == nil {
		return nil, auth.ErrInvalidRequest
	}
	if err := identity.Scope().Validate(); err != nil {
		return nil, err
	}
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	if identity.Status == "" {
		identity.Status = auth.StatusPending
	}
	identity.Identifier = auth.NormalizeIdentifier(identity.Identifier)
	return r.Repository.CreateTx(ctx, tx, identity)
}

func (r *identities) FindBySubject(ctx context.Context, scope auth.TenantScope, subjectID string) (*auth.Identity, error) {
	return r.FindBySubjectTx(ctx, r.db, scope, subjectID)
}

func (r *identities) FindBySubjectTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string) (*auth.Identity, error) {
	if _, err := uuid.Parse(subjectID); err != nil {
		return nil, auth.ErrRecordNotFound
	}
	return r.findOne(ctx, tx, scope, "id", subjectID)
}

func (r *identities) FindByIdentifier(ctx context.Context, scope auth.TenantScope, identifier string) (*auth.Identity, error) {
	return r.FindByIdentifierTx(ctx, r.db, scope, identifier)
}

func (r *identities) FindByIdentifierTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, identifier string) (*auth.Identity, error) {
	return r.findOne(ctx, tx, scope, "identifier", auth.NormalizeIdentifier(identifier))
}

func (r *identities) findOne(ctx context.Context, tx bun.IDB, scope auth.TenantScope, column, value string) (*auth.Identity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	record := &auth.Identity{}
	err := tx.NewSelect().
		Model(record).
		Apply(scoped(scope)).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, auth.ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *identities) UpdateStatus(ctx context.Context, scope auth.TenantScope, subjectID string, status auth.IdentityStatus, reason string) error {
	return r.UpdateStatusTx(ctx, r.db, scope, subjectID, status, reason)
}

func (r *identities) UpdateStatusTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string, status auth.IdentityStatus, reason string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	res, err := tx.NewUpdate().
		Model((*auth.Identity)(nil)).
		Set("status = ?", status).
		Set("status_reason = ?", reason).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", subjectID).
		Where("tenant_id = ?", scope.TenantID).
		Where("school_id = ?", scope.SchoolID).
		Where("is_deleted = ?", false).
		Exec(ctx)
	return affectedOne(res, err)
}

func (r *identities) MarkDeleted(ctx context.Context, scope auth.TenantScope, subjectID string) error {
	return r.MarkDeletedTx(ctx, r.db, scope, subjectID)
}

func (r *identities) MarkDeletedTx(ctx context.Context, tx bun.IDB, scope auth.TenantScope, subjectID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	res, err := tx.NewUpdate().
		Model((*auth.Identity)(nil)).
		Set("is_deleted = ?", true).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", subjectID).
		Where("tenant_id = ?", scope.TenantID).
		Where("school_id = ?", scope.SchoolID).
		Where("is_deleted = ?", false).
		Exec(ctx)
	return affectedOne(res, err)
}

func scoped(scope auth.TenantScope) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("?TableAlias.tenant_id = ?", scope.TenantID).
			Where("?TableAlias.school_id = ?", scope.SchoolID).
			Where("?TableAlias.is_deleted = ?", false)
	}
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrRecordNotFound
	}
	return nil
}
