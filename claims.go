package auth

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClass separates short lived access tokens from long lived refresh tokens
type TokenClass string

const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// Valid reports whether c is a known class
func (c TokenClass) Valid() bool {
	return c == ClassAccess || c == ClassRefresh
}

// TokenPayload is the verified, immutable content of a token
type TokenPayload struct {
	SubjectID   string
	TenantID    string
	SchoolID    string
	Roles       []Role
	Permissions []Permission
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Class       TokenClass
	SessionID   string
	JTI         string
	Metadata    map[string]any
}

// Scope returns the tenant scope the payload was issued for
func (p TokenPayload) Scope() TenantScope {
	return TenantScope{TenantID: p.TenantID, SchoolID: p.SchoolID}
}

// HasRole reports whether the payload carries role
func (p TokenPayload) HasRole(role Role) bool {
	return slices.Contains(p.Roles, role)
}

// PayloadFromIdentity copies the identity claims into a payload ready to issue
func PayloadFromIdentity(identity *Identity) TokenPayload {
	if identity == nil {
		return TokenPayload{}
	}
	return TokenPayload{
		SubjectID:   identity.ID.String(),
		TenantID:    identity.TenantID.String(),
		SchoolID:    identity.SchoolID,
		Roles:       slices.Clone(identity.Roles),
		Permissions: slices.Clone(identity.Permissions),
	}
}

// TokenClaims is the JWT wire shape of a TokenPayload
type TokenClaims struct {
	jwt.RegisteredClaims
	TenantID    string         `json:"tid,omitempty"`
	SchoolID    string         `json:"sch,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Permissions []string       `json:"perms,omitempty"`
	Class       TokenClass     `json:"cls,omitempty"`
	SessionID   string         `json:"sid,omitempty"`
	IssuedAtMs  int64          `json:"iat_ms,omitempty"` // issuance in unix milliseconds
	Metadata    map[string]any `json:"metadata,omitempty"` // extension payload
}

// Payload converts verified claims into a TokenPayload
func (c *TokenClaims) Payload() TokenPayload {
	p := TokenPayload{
		SubjectID:   c.RegisteredClaims.Subject,
		TenantID:    c.TenantID,
		SchoolID:    c.SchoolID,
		Roles:       slices.Clone(c.Roles),
		Permissions: slices.Clone(c.Permissions),
		Class:       c.Class,
		SessionID:   c.SessionID,
		JTI:         c.RegisteredClaims.ID,
	}
	switch {
	case c.IssuedAtMs > 0:
		p.IssuedAt = time.UnixMilli(c.IssuedAtMs)
	case c.RegisteredClaims.IssuedAt != nil:
		p.IssuedAt = c.RegisteredClaims.IssuedAt.Time
	}
	if c.RegisteredClaims.ExpiresAt != nil {
		p.ExpiresAt = c.RegisteredClaims.ExpiresAt.Time
	}
	if len(c.Metadata) > 0 {
		p.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			p.Metadata[k] = v
		}
	}
	return p
}

// missingRequired returns the first required claim that is absent
func (c *TokenClaims) missingRequired() string {
	switch {
	case c.RegisteredClaims.Subject == "":
		return "sub"
	case c.TenantID == "":
		return "tid"
	case c.SchoolID == "":
		return "sch"
	case c.RegisteredClaims.ID == "":
		return "jti"
	case c.SessionID == "":
		return "sid"
	case c.RegisteredClaims.IssuedAt == nil:
		return "iat"
	}
	return ""
}
