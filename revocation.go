package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RevocationScope selects what a revocation entry is keyed by
type RevocationScope string

const (
	ScopeToken   RevocationScope = "token"
	ScopeSession RevocationScope = "session"
	ScopeUser    RevocationScope = "user"
)

// Valid reports whether s is a known scope
func (s RevocationScope) Valid() bool {
	return s == ScopeToken || s == ScopeSession || s == ScopeUser
}

// RevocationEntry is an append only marker. Entries are kept until RetainUntil,
// which is never earlier than the natural expiry of any token it could match.
type RevocationEntry struct {
	Scope       RevocationScope
	Key         string
	RevokedAt   time.Time
	RetainUntil time.Time
	Reason      string
}

// UserRevocationKey scopes a subject to its tenant so colliding subject ids
// in different tenants never revoke each other.
func UserRevocationKey(tenantID, subjectID string) string {
	return tenantID + "/" + subjectID
}

// RevocationRegistry records and checks revocations across the three scopes
type RevocationRegistry struct {
	store     RevocationStore
	retention time.Duration
	now       func() time.Time
	logger    Logger
}

// RevocationOption customizes the registry
type RevocationOption func(*RevocationRegistry)

// WithRevocationClock injects a clock
func WithRevocationClock(now func() time.Time) RevocationOption {
	return func(r *RevocationRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRevocationLogger sets the registry logger
func WithRevocationLogger(logger Logger) RevocationOption {
	return func(r *RevocationRegistry) {
		r.logger = normalizeLogger(logger)
	}
}

// NewRevocationRegistry creates a registry. retention should be the maximum
// lifetime of the longest lived token class.
func NewRevocationRegistry(store RevocationStore, retention time.Duration, opts ...RevocationOption) *RevocationRegistry {
	r := &RevocationRegistry{
		store:     store,
		retention: retention,
		now:       time.Now,
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Retention returns how long entries are kept
func (r *RevocationRegistry) Retention() time.Duration {
	return r.retention
}

// Revoke marks key as untrusted. Revoking an already revoked key is a no-op.
func (r *RevocationRegistry) Revoke(ctx context.Context, scope RevocationScope, key, reason string) error {
	if !scope.Valid() || key == "" {
		return withDetail(ErrInvalidRequest, nil, map[string]any{
			"reason": "revocation requires a known scope and a key",
			"scope":  scope,
		})
	}

	now := r.now()
	entry := RevocationEntry{
		Scope:       scope,
		Key:         key,
		RevokedAt:   now,
		RetainUntil: now.Add(r.retention),
		Reason:      reason,
	}

	if err := r.store.Put(ctx, entry); err != nil {
		r.logger.Error("revocation write failed scope=%s: %v", scope, err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record revocation")
	}
	return nil
}

// IsRevoked reports whether an entry exists for scope and key
func (r *RevocationRegistry) IsRevoked(ctx context.Context, scope RevocationScope, key string) (bool, error) {
	_, found, err := r.lookup(ctx, scope, key)
	return found, err
}

// RevokedAt returns when key was revoked, if it was
func (r *RevocationRegistry) RevokedAt(ctx context.Context, scope RevocationScope, key string) (time.Time, bool, error) {
	entry, found, err := r.lookup(ctx, scope, key)
	if err != nil || !found {
		return time.Time{}, found, err
	}
	return entry.RevokedAt, true, nil
}

// CheckPayload checks every scope for payload. A user scope entry only
// revokes tokens issued at or before the revocation instant, tokens minted
// afterwards under a new session are trusted again. Both instants are
// compared at millisecond precision, the precision tokens carry.
func (r *RevocationRegistry) CheckPayload(ctx context.Context, payload TokenPayload) error {
	if _, found, err := r.lookup(ctx, ScopeToken, payload.JTI); err != nil {
		return err
	} else if found {
		return revokedError(ScopeToken)
	}

	if _, found, err := r.lookup(ctx, ScopeSession, payload.SessionID); err != nil {
		return err
	} else if found {
		return revokedError(ScopeSession)
	}

	entry, found, err := r.lookup(ctx, ScopeUser, UserRevocationKey(payload.TenantID, payload.SubjectID))
	if err != nil {
		return err
	}
	if found && !payload.IssuedAt.Truncate(time.Millisecond).After(entry.RevokedAt.Truncate(time.Millisecond)) {
		return revokedError(ScopeUser)
	}

	return nil
}

func (r *RevocationRegistry) lookup(ctx context.Context, scope RevocationScope, key string) (RevocationEntry, bool, error) {
	if key == "" {
		return RevocationEntry{}, false, nil
	}
	entry, found, err := r.store.Get(ctx, scope, key)
	if err != nil {
		r.logger.Error("revocation lookup failed scope=%s: %v", scope, err)
		return RevocationEntry{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check revocation")
	}
	return entry, found, nil
}

func revokedError(scope RevocationScope) error {
	return withDetail(ErrRevoked, nil, map[string]any{"scope": scope})
}
