package auth

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRevocationStore keeps revocation entries in process. It is meant for
// tests and single node deployments.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]RevocationEntry
}

// NewMemoryRevocationStore creates an empty store
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{entries: make(map[string]RevocationEntry)}
}

func revocationKey(scope RevocationScope, key string) string {
	return string(scope) + ":" + key
}

// Put stores entry unless one already exists for its scope and key. A user
// scope entry is replaced when the new one was revoked later.
func (s *MemoryRevocationStore) Put(_ context.Context, entry RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := revocationKey(entry.Scope, entry.Key)
	if current, ok := s.entries[k]; ok {
		if entry.Scope != ScopeUser || !entry.RevokedAt.After(current.RevokedAt) {
			return nil
		}
	}
	s.entries[k] = entry
	return nil
}

// Get returns the entry for scope and key
func (s *MemoryRevocationStore) Get(_ context.Context, scope RevocationScope, key string) (RevocationEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[revocationKey(scope, key)]
	return entry, ok, nil
}

// Purge drops entries whose retention ended before now and returns how many
func (s *MemoryRevocationStore) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for k, entry := range s.entries {
		if entry.RetainUntil.Before(now) {
			delete(s.entries, k)
			purged++
		}
	}
	return purged
}

// Len returns the number of stored entries
func (s *MemoryRevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryAttemptStore keeps login attempt counters in process
type MemoryAttemptStore struct {
	mu       sync.Mutex
	counters map[string]AttemptCounter
}

// NewMemoryAttemptStore creates an empty store
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{counters: make(map[string]AttemptCounter)}
}

// Increment adds one failure. A counter whose window elapsed starts over at now.
func (s *MemoryAttemptStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (AttemptCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || (window > 0 && !now.Before(counter.WindowStart.Add(window))) {
		counter = AttemptCounter{Key: key, WindowStart: now}
	}
	counter.Count++
	s.counters[key] = counter
	return counter, nil
}

// Get returns the counter for key, zero valued when missing
func (s *MemoryAttemptStore) Get(_ context.Context, key string) (AttemptCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		return AttemptCounter{Key: key}, nil
	}
	return counter, nil
}

// Reset clears the counter for key
func (s *MemoryAttemptStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	return nil
}

// MemoryIdentityRepository is an in process IdentityRepository and
// IdentityStatusWriter. Stored identities are copied on the way in and out.
type MemoryIdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewMemoryIdentityRepository creates a repository seeded with identities
func NewMemoryIdentityRepository(identities ...*Identity) *MemoryIdentityRepository {
	r := &MemoryIdentityRepository{identities: make(map[string]Identity)}
	for _, identity := range identities {
		r.Save(identity)
	}
	return r
}

// Save stores or replaces an identity
func (r *MemoryIdentityRepository) Save(identity *Identity) {
	if identity == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneIdentity(*identity)
	stored.Identifier = NormalizeIdentifier(stored.Identifier)
	r.identities[identity.ID.String()] = stored
}

// FindBySubject returns the identity with subjectID inside scope
func (r *MemoryIdentityRepository) FindBySubject(_ context.Context, scope TenantScope, subjectID string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[subjectID]
	if !ok || !inScope(identity, scope) {
		return nil, ErrRecordNotFound
	}
	out := cloneIdentity(identity)
	return &out, nil
}

// FindByIdentifier returns the identity with identifier inside scope
func (r *MemoryIdentityRepository) FindByIdentifier(_ context.Context, scope TenantScope, identifier string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identifier = NormalizeIdentifier(identifier)
	for _, identity := range r.identities {
		if identity.Identifier == identifier && inScope(identity, scope) {
			out := cloneIdentity(identity)
			return &out, nil
		}
	}
	return nil, ErrRecordNotFound
}

// UpdateStatus changes the status of an identity
func (r *MemoryIdentityRepository) UpdateStatus(_ context.Context, scope TenantScope, subjectID string, status IdentityStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[subjectID]
	if !ok || !inScope(identity, scope) {
		return ErrRecordNotFound
	}
	identity.Status = status
	identity.StatusReason = reason
	now := time.Now().UTC()
	identity.UpdatedAt = &now
	r.identities[subjectID] = identity
	return nil
}

// MarkDeleted flags an identity as deleted
func (r *MemoryIdentityRepository) MarkDeleted(_ context.Context, scope TenantScope, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[subjectID]
	if !ok || !inScope(identity, scope) {
		return ErrRecordNotFound
	}
	identity.IsDeleted = true
	r.identities[subjectID] = identity
	return nil
}

func inScope(identity Identity, scope TenantScope) bool {
	return !identity.IsDeleted &&
		identity.TenantID.String() == scope.TenantID &&
		identity.SchoolID == scope.SchoolID
}

func cloneIdentity(identity Identity) Identity {
	identity.Roles = slices.Clone(identity.Roles)
	identity.Permissions = slices.Clone(identity.Permissions)
	return identity
}

// MemoryTenantRepository is an in process TenantRepository
type MemoryTenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryTenantRepository creates a repository seeded with tenants
func NewMemoryTenantRepository(tenants ...*Tenant) *MemoryTenantRepository {
	r := &MemoryTenantRepository{tenants: make(map[string]Tenant)}
	for _, tenant := range tenants {
		r.Save(tenant)
	}
	return r
}

// Save stores or replaces a tenant
func (r *MemoryTenantRepository) Save(tenant *Tenant) {
	if tenant == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID.String()] = *tenant
}

// FindTenant returns the tenant with tenantID
func (r *MemoryTenantRepository) FindTenant(_ context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &tenant, nil
}
