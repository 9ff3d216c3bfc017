package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, auth.CorrelationIDFromContext(ctx))

	ctx, id := auth.EnsureCorrelationID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, auth.CorrelationIDFromContext(ctx))

	same, again := auth.EnsureCorrelationID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)

	assert.Equal(t, ctx, auth.WithCorrelationID(ctx, "  "), "blank ids are ignored")
	assert.NotEqual(t, auth.NewCorrelationID(), auth.NewCorrelationID())
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	_, ok := auth.PrincipalFromContext(ctx)
	assert.False(t, ok)
	assert.False(t, auth.HasRole(ctx, auth.RoleTeacher))

	principal := &auth.IdentityContext{Payload: auth.TokenPayload{
		SubjectID: "sub",
		TenantID:  "tid",
		SchoolID:  testSchool,
		Roles:     []auth.Role{auth.RoleTeacher},
	}}
	ctx = auth.WithPrincipal(ctx, principal)

	got, ok := auth.PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, principal, got)
	assert.True(t, auth.HasRole(ctx, auth.RoleTeacher))
	assert.False(t, auth.HasRole(ctx, auth.RoleAdmin))
}

func TestIdentityContextPrefersLoadedIdentity(t *testing.T) {
	principal := &auth.IdentityContext{
		Payload:  auth.TokenPayload{Roles: []auth.Role{auth.RoleTeacher}},
		Identity: &auth.Identity{Roles: []auth.Role{auth.RoleAdmin}},
	}
	assert.Equal(t, []auth.Role{auth.RoleAdmin}, principal.Roles())

	roles := principal.Roles()
	roles[0] = auth.RoleSuperAdmin
	assert.True(t, principal.HasRole(auth.RoleAdmin), "roles are returned as a copy")
}
