package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is a tenant scoped role name
type Role = string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
)

// Permission is a fine grained capability carried in tokens
type Permission = string

// Plan is the tenant subscription plan
type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

// IdentityStatus is the lifecycle status of an identity
type IdentityStatus string

const (
	StatusPending   IdentityStatus = "pending"
	StatusActive    IdentityStatus = "active"
	StatusSuspended IdentityStatus = "suspended"
)

// Identity is a principal scoped to exactly one tenant and school.
// Deleted identities are kept and flagged with IsDeleted.
type Identity struct {
	bun.BaseModel  `bun:"table:identities,alias:idn"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	TenantID       uuid.UUID      `bun:"tenant_id,notnull,type:uuid" json:"tenant_id,omitempty"`
	SchoolID       string         `bun:"school_id,notnull" json:"school_id,omitempty"`
	Identifier     string         `bun:"identifier,notnull" json:"identifier,omitempty"`
	SecretHash     string         `bun:"secret_hash" json:"-"`
	Roles          []Role         `bun:"roles" json:"roles,omitempty"`
	Permissions    []Permission   `bun:"permissions" json:"permissions,omitempty"`
	Status         IdentityStatus `bun:"status,notnull" json:"status,omitempty"`
	IsDeleted      bool           `bun:"is_deleted,notnull,default:false" json:"is_deleted,omitempty"`
	FailedAttempts int            `bun:"failed_attempts,notnull,default:0" json:"failed_attempts,omitempty"`
	StatusReason   string         `bun:"status_reason" json:"status_reason,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsActive reports whether the identity may be authorized at all
func (i *Identity) IsActive() bool {
	return i != nil && i.Status == StatusActive && !i.IsDeleted
}

// HasRole reports whether the identity holds the role
func (i *Identity) HasRole(role Role) bool {
	return i != nil && slices.Contains(i.Roles, role)
}

// Scope returns the tenant scope the identity lives in
func (i *Identity) Scope() TenantScope {
	return TenantScope{TenantID: i.TenantID.String(), SchoolID: i.SchoolID}
}

// Tenant is an organization and school pair. Read only for this package.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants,alias:tnt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SchoolID      string     `bun:"school_id,notnull" json:"school_id,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	Plan          Plan       `bun:"subscription_plan,notnull" json:"subscription_plan,omitempty"`
	Active        bool       `bun:"active,notnull" json:"active,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Scope returns the tenant scope identities of this tenant live in
func (t *Tenant) Scope() TenantScope {
	return TenantScope{TenantID: t.ID.String(), SchoolID: t.SchoolID}
}

// TenantScope is the mandatory filter for every identity lookup
type TenantScope struct {
	TenantID string
	SchoolID string
}

// Validate ensures both parts of the scope are present
func (s TenantScope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" || strings.TrimSpace(s.SchoolID) == "" {
		return withDetail(ErrInvalidRequest, nil, map[string]any{
			"reason": "tenant scope requires tenant and school",
		})
	}
	return nil
}

func (s TenantScope) String() string {
	return s.TenantID + "/" + s.SchoolID
}

// NormalizeIdentifier lowercases and trims login identifiers
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
