package auth

import (
	_ "embed"
	"slices"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed access_model.conf
var accessModelContent string

// OperationContext describes the protected operation being authorized
type OperationContext struct {
	Operation           string
	RequiredPermissions []Permission
	Metadata            map[string]any
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool
	Reason  string
	Err     error
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(err error) Decision {
	return Decision{Reason: TextCode(err), Err: err}
}

// DefaultRolePlans is the role to allowed plans table. Roles missing from the
// table are allowed on no plan.
func DefaultRolePlans() map[Role][]Plan {
	return map[Role][]Plan{
		RoleSuperAdmin: {PlanPremium},
		RoleAdmin:      {PlanBasic, PlanPremium},
		RoleTeacher:    {PlanTrial, PlanBasic, PlanPremium},
		RoleStudent:    {PlanTrial, PlanBasic, PlanPremium},
	}
}

// AccessPolicyEngine evaluates role and plan requirements. The two predicates
// are independent and exposed on their own.
type AccessPolicyEngine struct {
	enforcer casbin.IEnforcer
	table    map[Role][]Plan
}

// NewAccessPolicyEngine loads table into a casbin enforcer. A nil table uses
// DefaultRolePlans.
func NewAccessPolicyEngine(table map[Role][]Plan) (*AccessPolicyEngine, error) {
	if table == nil {
		table = DefaultRolePlans()
	}

	m, err := model.NewModelFromString(accessModelContent)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse access model")
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create access enforcer")
	}

	copied := make(map[Role][]Plan, len(table))
	for role, plans := range table {
		copied[role] = slices.Clone(plans)
		for _, plan := range plans {
			if _, err := enforcer.AddPolicy(role, string(plan)); err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load access policy")
			}
		}
	}

	return &AccessPolicyEngine{enforcer: enforcer, table: copied}, nil
}

// AllowedPlans returns the plans role may operate under
func (e *AccessPolicyEngine) AllowedPlans(role Role) []Plan {
	return slices.Clone(e.table[role])
}

// HasAnyRole reports whether held contains at least one of required. An
// empty requirement is always met.
func (e *AccessPolicyEngine) HasAnyRole(held []Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, role := range required {
		if slices.Contains(held, role) {
			return true
		}
	}
	return false
}

// PlanSatisfies reports whether plan is allowed for every required role
func (e *AccessPolicyEngine) PlanSatisfies(plan Plan, required []Role) (bool, error) {
	for _, role := range required {
		ok, err := e.enforcer.Enforce(role, string(plan))
		if err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to evaluate plan policy")
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Authorize requires an active identity, an active tenant, one of the
// required roles, a plan allowed for all required roles and every required
// permission.
func (e *AccessPolicyEngine) Authorize(identity *Identity, tenant *Tenant, requiredRoles []Role, op OperationContext) Decision {
	if !identity.IsActive() {
		return deny(ErrIdentityInactive)
	}

	if tenant == nil || !tenant.Active {
		return deny(ErrTenantInactive)
	}

	if !e.HasAnyRole(identity.Roles, requiredRoles) {
		return deny(withDetail(ErrRoleDenied, nil, map[string]any{
			"required":  requiredRoles,
			"operation": op.Operation,
		}))
	}

	ok, err := e.PlanSatisfies(tenant.Plan, requiredRoles)
	if err != nil {
		return Decision{Reason: TextCode(err), Err: err}
	}
	if !ok {
		return deny(withDetail(ErrPlanInsufficient, nil, map[string]any{
			"plan":      tenant.Plan,
			"required":  requiredRoles,
			"operation": op.Operation,
		}))
	}

	for _, perm := range op.RequiredPermissions {
		if !slices.Contains(identity.Permissions, perm) {
			return deny(withDetail(ErrPermissionDenied, nil, map[string]any{
				"permission": perm,
				"operation":  op.Operation,
			}))
		}
	}

	return allow()
}
