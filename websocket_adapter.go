package auth

import (
	"context"
	"slices"

	"github.com/goliatone/go-router"
)

// roleRank orders roles for IsAtLeast checks. Unknown roles rank zero.
var roleRank = map[Role]int{
	RoleStudent:    1,
	RoleTeacher:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// WSTokenValidator implements go-router's WSTokenValidator on top of
// Coordinator.Authenticate, so websocket upgrades go through the same
// signature, revocation, tenant and identity checks as HTTP requests.
type WSTokenValidator struct {
	coordinator *Coordinator
}

// NewWSTokenValidator creates a websocket token validator for c
func NewWSTokenValidator(c *Coordinator) *WSTokenValidator {
	return &WSTokenValidator{coordinator: c}
}

// Validate authenticates tokenString and returns websocket claims
func (w *WSTokenValidator) Validate(tokenString string) (router.WSAuthClaims, error) {
	principal, err := w.coordinator.Authenticate(context.Background(), tokenString)
	if err != nil {
		return nil, err
	}
	return &WSAuthClaimsAdapter{coordinator: w.coordinator, principal: principal}, nil
}

// WSAuthClaimsAdapter exposes an IdentityContext as go-router WSAuthClaims.
// Every access check is a Coordinator.Authorize decision, so the tenant plan
// applies and the check is audited. Resource checks require the
// "<resource>:<action>" permission.
type WSAuthClaimsAdapter struct {
	coordinator *Coordinator
	principal   *IdentityContext
}

func (w *WSAuthClaimsAdapter) Subject() string {
	return w.principal.SubjectID()
}

func (w *WSAuthClaimsAdapter) UserID() string {
	return w.principal.SubjectID()
}

// Role returns the highest ranked role of the principal
func (w *WSAuthClaimsAdapter) Role() string {
	best := ""
	for _, role := range w.principal.Roles() {
		if best == "" || roleRank[role] > roleRank[best] {
			best = role
		}
	}
	return best
}

func (w *WSAuthClaimsAdapter) CanRead(resource string) bool {
	return w.can(resource, "read")
}

func (w *WSAuthClaimsAdapter) CanEdit(resource string) bool {
	return w.can(resource, "write")
}

func (w *WSAuthClaimsAdapter) CanCreate(resource string) bool {
	return w.can(resource, "create")
}

func (w *WSAuthClaimsAdapter) CanDelete(resource string) bool {
	return w.can(resource, "delete")
}

// HasRole reports whether the principal holds role and the tenant plan allows it
func (w *WSAuthClaimsAdapter) HasRole(role string) bool {
	return w.authorize([]Role{role}, OperationContext{Operation: "ws.role"})
}

// IsAtLeast reports whether the principal holds a role ranked at or above
// minRole that the tenant plan allows. Held roles are tried from the highest.
func (w *WSAuthClaimsAdapter) IsAtLeast(minRole string) bool {
	threshold, ok := roleRank[minRole]
	if !ok {
		return w.authorize([]Role{minRole}, OperationContext{Operation: "ws.rank"})
	}

	var candidates []Role
	for _, role := range w.principal.Roles() {
		if roleRank[role] >= threshold {
			candidates = append(candidates, role)
		}
	}
	if len(candidates) == 0 {
		return w.authorize([]Role{minRole}, OperationContext{Operation: "ws.rank"})
	}

	slices.SortFunc(candidates, func(a, b Role) int {
		return roleRank[b] - roleRank[a]
	})
	for _, role := range candidates {
		if w.authorize([]Role{role}, OperationContext{Operation: "ws.rank"}) {
			return true
		}
	}
	return false
}

func (w *WSAuthClaimsAdapter) can(resource, action string) bool {
	return w.authorize(nil, OperationContext{
		Operation:           "ws." + action,
		RequiredPermissions: []Permission{resource + ":" + action},
	})
}

func (w *WSAuthClaimsAdapter) authorize(roles []Role, op OperationContext) bool {
	return w.coordinator.Authorize(context.Background(), w.principal, roles, op).Allowed
}

// NewWSAuthMiddleware creates websocket authentication middleware backed by c
func NewWSAuthMiddleware(c *Coordinator, config ...router.WSAuthConfig) router.WebSocketMiddleware {
	var cfg router.WSAuthConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	cfg.TokenValidator = NewWSTokenValidator(c)

	return router.NewWSAuth(cfg)
}

// WSPrincipalFromContext returns the principal stored by the websocket middleware
func WSPrincipalFromContext(ctx context.Context) (*IdentityContext, bool) {
	claims, ok := router.WSAuthClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}

	if adapter, ok := claims.(*WSAuthClaimsAdapter); ok {
		return adapter.principal, true
	}

	return nil, false
}
