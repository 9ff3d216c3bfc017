package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MaxCacheTTL bounds every read cache. Staleness beyond it is never accepted.
const MaxCacheTTL = 60 * time.Second

// DefaultCacheSize is used when a cache is enabled without a size
const DefaultCacheSize = 1024

// TenantResolver validates tenants with a short lived read cache
type TenantResolver struct {
	repo   TenantRepository
	cache  *expirable.LRU[string, Tenant]
	logger Logger
}

// TenantResolverOption customizes the resolver
type TenantResolverOption func(*TenantResolver)

// WithTenantCache enables caching. A ttl of zero disables it.
func WithTenantCache(size int, ttl time.Duration) TenantResolverOption {
	return func(r *TenantResolver) {
		r.cache = newBoundedCache[Tenant](size, ttl)
	}
}

// WithTenantResolverLogger sets the resolver logger
func WithTenantResolverLogger(logger Logger) TenantResolverOption {
	return func(r *TenantResolver) {
		r.logger = normalizeLogger(logger)
	}
}

// NewTenantResolver creates a resolver over repo
func NewTenantResolver(repo TenantRepository, opts ...TenantResolverOption) *TenantResolver {
	r := &TenantResolver{
		repo:   repo,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the tenant or fails with ErrTenantNotFound or ErrTenantInactive.
// The plan is returned as is, it does not gate authentication.
func (r *TenantResolver) Resolve(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(tenantID); ok {
			return checkTenant(cached)
		}
	}

	tenant, err := readWithRetry(ctx, func(ctx context.Context) (*Tenant, error) {
		return r.repo.FindTenant(ctx, tenantID)
	})
	if err != nil {
		if IsRecordNotFound(err) {
			return nil, ErrTenantNotFound
		}
		r.logger.Error("tenant resolver read failed for %s: %v", tenantID, err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve tenant")
	}
	if tenant == nil {
		return nil, ErrTenantNotFound
	}

	if r.cache != nil {
		r.cache.Add(tenantID, *tenant)
	}

	return checkTenant(*tenant)
}

// ResolveScope resolves the tenant and checks the school belongs to it
func (r *TenantResolver) ResolveScope(ctx context.Context, scope TenantScope) (*Tenant, error) {
	tenant, err := r.Resolve(ctx, scope.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.SchoolID != scope.SchoolID {
		return nil, withDetail(ErrTenantNotFound, nil, map[string]any{"reason": "school mismatch"})
	}
	return tenant, nil
}

// Invalidate drops a cached tenant
func (r *TenantResolver) Invalidate(tenantID string) {
	if r.cache != nil {
		r.cache.Remove(tenantID)
	}
}

func checkTenant(t Tenant) (*Tenant, error) {
	if !t.Active {
		return nil, ErrTenantInactive
	}
	return &t, nil
}

func newBoundedCache[V any](size int, ttl time.Duration) *expirable.LRU[string, V] {
	if ttl <= 0 {
		return nil
	}
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return expirable.NewLRU[string, V](size, nil, ttl)
}

// readWithRetry retries a read once unless it was a miss or the caller gave up
func readWithRetry[T any](ctx context.Context, read func(ctx context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if err == nil || IsRecordNotFound(err) || ctx.Err() != nil {
		return v, err
	}
	return read(ctx)
}
