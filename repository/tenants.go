package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goliatone/go-repository-bun"
	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Tenants reads tenants for the resolver. Tenant rows are owned by the
// provisioning side, Create is only used to seed them.
type Tenants interface {
	repository.Repository[*auth.Tenant]
	auth.TenantRepository

	FindTenantTx(ctx context.Context, tx bun.IDB, tenantID string) (*auth.Tenant, error)
}

type tenants struct {
	repository.Repository[*auth.Tenant]
	db *bun.DB
}

var _ Tenants = (*tenants)(nil)

func NewTenantsRepository(db *bun.DB) Tenants {
	repo := repository.NewRepository[*auth.Tenant](db, repository.ModelHandlers[*auth.Tenant]{
		NewRecord: func() *auth.Tenant { return &auth.Tenant{} },
		GetID: func(t *auth.Tenant) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *auth.Tenant, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "school_id"
		},
	})
	return &tenants{Repository: repo, db: db}
}

func (r *tenants) FindTenant(ctx context.Context, tenantID string) (*auth.Tenant, error) {
	return r.FindTenantTx(ctx, r.db, tenantID)
}

func (r *tenants) FindTenantTx(ctx context.Context, tx bun.IDB, tenantID string) (*auth.Tenant, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, auth.ErrRecordNotFound
	}

	record := &auth.Tenant{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", tenantID).
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
