package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IdentityStore loads tenant scoped identity projections. Only active, non
// deleted identities that match the full tenant, school and subject triple
// are ever returned.
type IdentityStore struct {
	repo   IdentityRepository
	cache  *expirable.LRU[string, Identity]
	logger Logger
}

// IdentityStoreOption customizes the store
type IdentityStoreOption func(*IdentityStore)

// WithIdentityCache enables caching. A ttl of zero disables it.
func WithIdentityCache(size int, ttl time.Duration) IdentityStoreOption {
	return func(s *IdentityStore) {
		s.cache = newBoundedCache[Identity](size, ttl)
	}
}

// WithIdentityStoreLogger sets the store logger
func WithIdentityStoreLogger(logger Logger) IdentityStoreOption {
	return func(s *IdentityStore) {
		s.logger = normalizeLogger(logger)
	}
}

// NewIdentityStore creates a store over repo
func NewIdentityStore(repo IdentityRepository, opts ...IdentityStoreOption) *IdentityStore {
	s := &IdentityStore{
		repo:   repo,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load returns the identity for the exact triple or ErrIdentityNotFound
func (s *IdentityStore) Load(ctx context.Context, subjectID, tenantID, schoolID string) (*Identity, error) {
	scope := TenantScope{TenantID: tenantID, SchoolID: schoolID}
	if err := scope.Validate(); err != nil || strings.TrimSpace(subjectID) == "" {
		return nil, ErrIdentityNotFound
	}

	key := scope.String() + "/" + subjectID
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return &cached, nil
		}
	}

	identity, err := s.read(ctx, scope, func(ctx context.Context) (*Identity, error) {
		return s.repo.FindBySubject(ctx, scope, subjectID)
	})
	if err != nil {
		return nil, err
	}

	if identity.ID.String() != subjectID {
		s.logger.Error("identity store returned subject %s for %s", identity.ID, subjectID)
		return nil, ErrIdentityNotFound
	}

	if s.cache != nil {
		s.cache.Add(key, *identity)
	}
	return identity, nil
}

// FindByIdentifier looks an identity up by login identifier. Results are not
// cached so logins always see the current secret and status.
func (s *IdentityStore) FindByIdentifier(ctx context.Context, scope TenantScope, identifier string) (*Identity, error) {
	identifier = NormalizeIdentifier(identifier)
	if err := scope.Validate(); err != nil || identifier == "" {
		return nil, ErrIdentityNotFound
	}

	return s.read(ctx, scope, func(ctx context.Context) (*Identity, error) {
		return s.repo.FindByIdentifier(ctx, scope, identifier)
	})
}

// Invalidate drops a cached identity
func (s *IdentityStore) Invalidate(scope TenantScope, subjectID string) {
	if s.cache != nil {
		s.cache.Remove(scope.String() + "/" + subjectID)
	}
}

func (s *IdentityStore) read(ctx context.Context, scope TenantScope, read func(context.Context) (*Identity, error)) (*Identity, error) {
	identity, err := readWithRetry(ctx, read)
	if err != nil {
		if IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		s.logger.Error("identity store read failed in %s: %v", scope, err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load identity")
	}

	if identity == nil ||
		identity.TenantID.String() != scope.TenantID ||
		identity.SchoolID != scope.SchoolID ||
		!identity.IsActive() {
		return nil, ErrIdentityNotFound
	}

	return identity, nil
}
