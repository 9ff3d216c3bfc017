package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningMethod() string
	GetAccessSigningKey() string
	GetRefreshSigningKey() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetClockSkew() time.Duration
	GetLoginAttemptThreshold() int
	GetLoginAttemptWindow() time.Duration
	GetCacheTTL() time.Duration
	GetCacheSize() int
	// GetIdentityStaleness returns how old a token payload may be before
	// authenticate reloads the identity. Zero trusts the payload for the
	// whole token lifetime.
	GetIdentityStaleness() time.Duration
	GetRotateRefreshTokens() bool
}

// IdentityRepository reads identities. Every method takes a TenantScope and
// implementations must filter by both of its parts plus the deleted marker.
// A miss is reported with an error matching ErrRecordNotFound.
type IdentityRepository interface {
	FindBySubject(ctx context.Context, scope TenantScope, subjectID string) (*Identity, error)
	FindByIdentifier(ctx context.Context, scope TenantScope, identifier string) (*Identity, error)
}

// IdentityStatusWriter is the lifecycle write path for identities
type IdentityStatusWriter interface {
	UpdateStatus(ctx context.Context, scope TenantScope, subjectID string, status IdentityStatus, reason string) error
	MarkDeleted(ctx context.Context, scope TenantScope, subjectID string) error
}

// TenantRepository reads tenants. A miss is reported with ErrRecordNotFound.
type TenantRepository interface {
	FindTenant(ctx context.Context, tenantID string) (*Tenant, error)
}

// RevocationStore persists revocation entries. Put must keep an existing
// entry untouched so repeated revocations are no-ops.
type RevocationStore interface {
	Put(ctx context.Context, entry RevocationEntry) error
	Get(ctx context.Context, scope RevocationScope, key string) (RevocationEntry, bool, error)
}

// AttemptStore holds failed login counters. Increment must be atomic with
// respect to concurrent callers for the same key.
type AttemptStore interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (AttemptCounter, error)
	Get(ctx context.Context, key string) (AttemptCounter, error)
	Reset(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// SlogLogger adapts a *slog.Logger to Logger. Messages are formatted with
// fmt so existing call sites keep their printf style.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger wraps l, falling back to slog.Default
func NewSlogLogger(l *slog.Logger) SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{L: l.With("component", "auth")}
}

func (s SlogLogger) Debug(format string, args ...any) {
	s.L.Debug(fmt.Sprintf(format, args...))
}

func (s SlogLogger) Info(format string, args ...any) {
	s.L.Info(fmt.Sprintf(format, args...))
}

func (s SlogLogger) Warn(format string, args ...any) {
	s.L.Warn(fmt.Sprintf(format, args...))
}

func (s SlogLogger) Error(format string, args ...any) {
	s.L.Error(fmt.Sprintf(format, args...))
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
