package auth

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// IdentityContext is the authenticated principal of a request
type IdentityContext struct {
	Payload       TokenPayload
	Identity      *Identity
	Tenant        *Tenant
	CorrelationID string
}

// SubjectID returns the authenticated subject
func (c *IdentityContext) SubjectID() string {
	return c.Payload.SubjectID
}

// TenantID returns the tenant the principal is scoped to
func (c *IdentityContext) TenantID() string {
	return c.Payload.TenantID
}

// SchoolID returns the school the principal is scoped to
func (c *IdentityContext) SchoolID() string {
	return c.Payload.SchoolID
}

// SessionID returns the session the token belongs to
func (c *IdentityContext) SessionID() string {
	return c.Payload.SessionID
}

// Roles returns the effective roles
func (c *IdentityContext) Roles() []Role {
	if c.Identity != nil {
		return slices.Clone(c.Identity.Roles)
	}
	return slices.Clone(c.Payload.Roles)
}

// HasRole reports whether the principal holds role
func (c *IdentityContext) HasRole(role Role) bool {
	return slices.Contains(c.Roles(), role)
}

// ExpiresAt returns the token expiry
func (c *IdentityContext) ExpiresAt() time.Time {
	return c.Payload.ExpiresAt
}

// identityFromPayload projects a payload into an Identity. Tokens are only
// issued to active identities and suspension revokes the user scope, so a
// trusted payload stands for an active identity.
func identityFromPayload(p TokenPayload) (*Identity, error) {
	id, err := uuid.Parse(p.SubjectID)
	if err != nil {
		return nil, withDetail(ErrTokenMalformed, err, map[string]any{"claim": "sub"})
	}
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return nil, withDetail(ErrTokenMalformed, err, map[string]any{"claim": "tid"})
	}
	return &Identity{
		ID:          id,
		TenantID:    tenantID,
		SchoolID:    p.SchoolID,
		Roles:       slices.Clone(p.Roles),
		Permissions: slices.Clone(p.Permissions),
		Status:      StatusActive,
	}, nil
}
