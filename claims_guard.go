package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type immutableClaimsSnapshot struct {
	subject     string
	issuer      string
	jti         string
	tenantID    string
	schoolID    string
	sessionID   string
	class       TokenClass
	roles       []string
	permissions []string
	audience    []string
	issuedAt    time.Time
	hasIssuedAt bool
	issuedAtMs  int64
	expiresAt   time.Time
	hasExpires  bool
}

func captureImmutableClaims(claims *TokenClaims) immutableClaimsSnapshot {
	snap := immutableClaimsSnapshot{
		subject:     claims.RegisteredClaims.Subject,
		issuer:      claims.RegisteredClaims.Issuer,
		jti:         claims.RegisteredClaims.ID,
		tenantID:    claims.TenantID,
		schoolID:    claims.SchoolID,
		sessionID:   claims.SessionID,
		class:       claims.Class,
		roles:       slices.Clone(claims.Roles),
		permissions: slices.Clone(claims.Permissions),
		audience:    slices.Clone([]string(claims.RegisteredClaims.Audience)),
		issuedAtMs:  claims.IssuedAtMs,
	}

	if claims.RegisteredClaims.IssuedAt != nil {
		snap.issuedAt = claims.RegisteredClaims.IssuedAt.Time
		snap.hasIssuedAt = true
	}

	if claims.RegisteredClaims.ExpiresAt != nil {
		snap.expiresAt = claims.RegisteredClaims.ExpiresAt.Time
		snap.hasExpires = true
	}

	return snap
}

func (snap immutableClaimsSnapshot) validate(claims *TokenClaims) error {
	checks := []struct {
		field string
		equal bool
	}{
		{"sub", claims.RegisteredClaims.Subject == snap.subject},
		{"iss", claims.RegisteredClaims.Issuer == snap.issuer},
		{"jti", claims.RegisteredClaims.ID == snap.jti},
		{"tid", claims.TenantID == snap.tenantID},
		{"sch", claims.SchoolID == snap.schoolID},
		{"sid", claims.SessionID == snap.sessionID},
		{"cls", claims.Class == snap.class},
		{"roles", slices.Equal(claims.Roles, snap.roles)},
		{"perms", slices.Equal(claims.Permissions, snap.permissions)},
		{"aud", slices.Equal([]string(claims.RegisteredClaims.Audience), snap.audience)},
		{"iat_ms", claims.IssuedAtMs == snap.issuedAtMs},
	}
	for _, c := range checks {
		if !c.equal {
			return immutableClaimViolation(c.field)
		}
	}

	if err := compareNumericDate(claims.RegisteredClaims.IssuedAt, snap.issuedAt, snap.hasIssuedAt, "iat"); err != nil {
		return err
	}

	return compareNumericDate(claims.RegisteredClaims.ExpiresAt, snap.expiresAt, snap.hasExpires, "exp")
}

func compareNumericDate(date *jwt.NumericDate, expected time.Time, expectedSet bool, field string) error {
	if !expectedSet {
		if date != nil {
			return immutableClaimViolation(field)
		}
		return nil
	}

	if date == nil || !date.Time.Equal(expected) {
		return immutableClaimViolation(field)
	}

	return nil
}

func immutableClaimViolation(field string) error {
	clone := ErrImmutableClaimMutation.Clone()
	if clone == nil {
		return ErrImmutableClaimMutation
	}
	clone.Message = fmt.Sprintf("immutable claim mutated: %s", field)
	clone.Source = ErrImmutableClaimMutation
	return clone.WithMetadata(map[string]any{"claim": field})
}
