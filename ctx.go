package auth

import (
	"context"
	"strings"

	"github.com/goliatone/go-router"
	"github.com/oklog/ulid/v2"
)

var principalCtxKey = &contextKey{"principal"}
var correlationCtxKey = &contextKey{"correlation_id"}

type contextKey struct {
	name string
}

// WithCorrelationID attaches the id that ties the authentication and
// authorization events of one request together.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationCtxKey, correlationID)
}

// CorrelationIDFromContext returns the correlation id, if any
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationCtxKey).(string); ok {
		return v
	}
	return ""
}

// EnsureCorrelationID returns ctx carrying a correlation id, creating one when missing
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// NewCorrelationID returns a time sortable id
func NewCorrelationID() string {
	return ulid.Make().String()
}

// WithPrincipal stores the authenticated identity context
func WithPrincipal(ctx context.Context, principal *IdentityContext) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the authenticated identity context
func PrincipalFromContext(ctx context.Context) (*IdentityContext, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(principalCtxKey).(*IdentityContext)
	return raw, ok && raw != nil
}

// GetRouterPrincipal extracts the identity context from router locals
func GetRouterPrincipal(ctx router.Context, key string) (*IdentityContext, bool) {
	if key == "" {
		key = "principal"
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	principal, ok := raw.(*IdentityContext)
	return principal, ok && principal != nil
}

// HasRole is a convenience check against the principal stored in ctx
func HasRole(ctx context.Context, role Role) bool {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return principal.HasRole(role)
}
