package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessPolicyRolePlanConjunction(t *testing.T) {
	engine, err := auth.NewAccessPolicyEngine(nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		roles    []auth.Role
		plan     auth.Plan
		required []auth.Role
		code     string
	}{
		{name: "admin on trial", roles: []auth.Role{auth.RoleAdmin}, plan: auth.PlanTrial, required: []auth.Role{auth.RoleAdmin}, code: auth.TextCodePlanInsufficient},
		{name: "admin on basic", roles: []auth.Role{auth.RoleAdmin}, plan: auth.PlanBasic, required: []auth.Role{auth.RoleAdmin}},
		{name: "teacher on trial", roles: []auth.Role{auth.RoleTeacher}, plan: auth.PlanTrial, required: []auth.Role{auth.RoleTeacher}},
		{name: "super admin on basic", roles: []auth.Role{auth.RoleSuperAdmin}, plan: auth.PlanBasic, required: []auth.Role{auth.RoleSuperAdmin}, code: auth.TextCodePlanInsufficient},
		{name: "student lacks admin", roles: []auth.Role{auth.RoleStudent}, plan: auth.PlanPremium, required: []auth.Role{auth.RoleAdmin}, code: auth.TextCodeRoleDenied},
		{name: "conjunctive plan check", roles: []auth.Role{auth.RoleTeacher}, plan: auth.PlanTrial, required: []auth.Role{auth.RoleTeacher, auth.RoleAdmin}, code: auth.TextCodePlanInsufficient},
		{name: "no requirement", roles: []auth.Role{auth.RoleStudent}, plan: auth.PlanTrial},
		{name: "unknown role denied by default", roles: []auth.Role{"janitor"}, plan: auth.PlanPremium, required: []auth.Role{"janitor"}, code: auth.TextCodePlanInsufficient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := newTenant(tt.plan)
			identity := newIdentity(t, tenant, testIdentifier, tt.roles...)

			decision := engine.Authorize(identity, tenant, tt.required, auth.OperationContext{Operation: "grades.update"})
			if tt.code == "" {
				assert.True(t, decision.Allowed)
				assert.NoError(t, decision.Err)
				return
			}
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.code, auth.TextCode(decision.Err))
			assert.Equal(t, tt.code, decision.Reason)
		})
	}
}

func TestAccessPolicyPredicatesAreIndependent(t *testing.T) {
	engine, err := auth.NewAccessPolicyEngine(nil)
	require.NoError(t, err)

	assert.True(t, engine.HasAnyRole([]auth.Role{auth.RoleAdmin}, []auth.Role{auth.RoleTeacher, auth.RoleAdmin}))
	assert.False(t, engine.HasAnyRole([]auth.Role{auth.RoleStudent}, []auth.Role{auth.RoleAdmin}))
	assert.True(t, engine.HasAnyRole(nil, nil))

	ok, err := engine.PlanSatisfies(auth.PlanBasic, []auth.Role{auth.RoleAdmin, auth.RoleTeacher})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.PlanSatisfies(auth.PlanBasic, []auth.Role{auth.RoleSuperAdmin})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []auth.Plan{auth.PlanPremium}, engine.AllowedPlans(auth.RoleSuperAdmin))
	assert.Empty(t, engine.AllowedPlans("janitor"))
}

func TestAccessPolicyRequiresActiveParties(t *testing.T) {
	engine, err := auth.NewAccessPolicyEngine(nil)
	require.NoError(t, err)

	tenant := newTenant(auth.PlanPremium)
	identity := newIdentity(t, tenant, testIdentifier, auth.RoleAdmin)

	suspended := *identity
	suspended.Status = auth.StatusSuspended
	decision := engine.Authorize(&suspended, tenant, []auth.Role{auth.RoleAdmin}, auth.OperationContext{})
	assert.Equal(t, auth.TextCodeIdentityInactive, decision.Reason)

	closed := *tenant
	closed.Active = false
	decision = engine.Authorize(identity, &closed, []auth.Role{auth.RoleAdmin}, auth.OperationContext{})
	assert.Equal(t, auth.TextCodeTenantInactive, decision.Reason)
}

func TestAccessPolicyPermissions(t *testing.T) {
	engine, err := auth.NewAccessPolicyEngine(nil)
	require.NoError(t, err)

	tenant := newTenant(auth.PlanBasic)
	identity := newIdentity(t, tenant, testIdentifier, auth.RoleTeacher)

	decision := engine.Authorize(identity, tenant, []auth.Role{auth.RoleTeacher}, auth.OperationContext{
		Operation:           "grades.read",
		RequiredPermissions: []auth.Permission{"grades:read"},
	})
	assert.True(t, decision.Allowed)

	decision = engine.Authorize(identity, tenant, []auth.Role{auth.RoleTeacher}, auth.OperationContext{
		Operation:           "grades.delete",
		RequiredPermissions: []auth.Permission{"grades:delete"},
	})
	assert.False(t, decision.Allowed)
	assert.Equal(t, auth.TextCodePermissionDenied, decision.Reason)
}

func TestAccessPolicyCustomTable(t *testing.T) {
	engine, err := auth.NewAccessPolicyEngine(map[auth.Role][]auth.Plan{
		auth.RoleAdmin: {auth.PlanTrial},
	})
	require.NoError(t, err)

	tenant := newTenant(auth.PlanTrial)
	identity := newIdentity(t, tenant, testIdentifier, auth.RoleAdmin, auth.RoleTeacher)

	assert.True(t, engine.Authorize(identity, tenant, []auth.Role{auth.RoleAdmin}, auth.OperationContext{}).Allowed)
	assert.False(t, engine.Authorize(identity, tenant, []auth.Role{auth.RoleTeacher}, auth.OperationContext{}).Allowed)
}
