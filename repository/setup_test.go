package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testSchool = "school-x"
	testSecret = "correct horse battery staple"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, Migrate(context.Background(), bunDB))

	t.Cleanup(func() {
		_ = bunDB.Close()
	})
	return bunDB
}

func seedTenant(t *testing.T, m Manager, plan auth.Plan) *auth.Tenant {
	t.Helper()
	tenant := &auth.Tenant{
		ID:       uuid.New(),
		SchoolID: testSchool,
		Name:     "North High",
		Plan:     plan,
		Active:   true,
	}
	_, err := m.Tenants().Create(context.Background(), tenant)
	require.NoError(t, err)
	return tenant
}

func seedIdentity(t *testing.T, m Manager, tenant *auth.Tenant, identifier string, roles ...auth.Role) *auth.Identity {
	t.Helper()
	hash, err := auth.HashSecret(testSecret, bcrypt.MinCost)
	require.NoError(t, err)

	identity, err := m.Identities().Register(context.Background(), &auth.Identity{
		TenantID:    tenant.ID,
		SchoolID:    tenant.SchoolID,
		Identifier:  identifier,
		SecretHash:  hash,
		Roles:       roles,
		Permissions: []auth.Permission{"grades:read"},
		Status:      auth.StatusActive,
	})
	require.NoError(t, err)
	return identity
}
