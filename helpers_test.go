package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "correct horse battery staple"
	testIdentifier = "teacher@school.test"
	testSchool     = "school-x"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock shared by every collaborator
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

func quietLogger() *MockLogger {
	l := &MockLogger{}
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("Info", mock.Anything, mock.Anything).Maybe()
	l.On("Warn", mock.Anything, mock.Anything).Maybe()
	l.On("Error", mock.Anything, mock.Anything).Maybe()
	return l
}

// testConfig implements auth.Config
type testConfig struct {
	staleness time.Duration
	rotate    bool
}

func (c testConfig) GetSigningMethod() string { return auth.SigningMethodHS256 }
func (c testConfig) GetAccessSigningKey() string { return "access-secret" }
func (c testConfig) GetRefreshSigningKey() string { return "refresh-secret" }
func (c testConfig) GetAccessTokenTTL() time.Duration { return 15 * time.Minute }
func (c testConfig) GetRefreshTokenTTL() time.Duration { return 7 * 24 * time.Hour }
func (c testConfig) GetIssuer() string { return "tenant-auth-test" }
func (c testConfig) GetAudience() []string { return []string{"school-api"} }
func (c testConfig) GetClockSkew() time.Duration { return 0 }
func (c testConfig) GetLoginAttemptThreshold() int { return 5 }
func (c testConfig) GetLoginAttemptWindow() time.Duration { return 15 * time.Minute }
func (c testConfig) GetCacheTTL() time.Duration { return 30 * time.Second }
func (c testConfig) GetCacheSize() int { return 128 }
func (c testConfig) GetIdentityStaleness() time.Duration { return c.staleness }
func (c testConfig) GetRotateRefreshTokens() bool { return c.rotate }

func newTenant(plan auth.Plan) *auth.Tenant {
	return &auth.Tenant{
		ID:       uuid.New(),
		SchoolID: testSchool,
		Name:     "North High",
		Plan:     plan,
		Active:   true,
	}
}

func newIdentity(t *testing.T, tenant *auth.Tenant, identifier string, roles ...auth.Role) *auth.Identity {
	t.Helper()
	hash, err := auth.HashSecret(testSecret, bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.Identity{
		ID:          uuid.New(),
		TenantID:    tenant.ID,
		SchoolID:    tenant.SchoolID,
		Identifier:  identifier,
		SecretHash:  hash,
		Roles:       roles,
		Permissions: []auth.Permission{"grades:read"},
		Status:      auth.StatusActive,
	}
}

func newTestCodec(t *testing.T, now func() time.Time, opts ...auth.TokenCodecOption) *auth.JWTCodec {
	t.Helper()
	accessKey, err := auth.NewHMACKey("access-1", []byte("access-secret"))
	require.NoError(t, err)
	refreshKey, err := auth.NewHMACKey("refresh-1", []byte("refresh-secret"))
	require.NoError(t, err)

	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  accessKey,
		RefreshKey: refreshKey,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "tenant-auth-test",
		Audience:   []string{"school-api"},
	}, append([]auth.TokenCodecOption{auth.WithCodecClock(now), auth.WithCodecLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return codec
}

// fixture wires a coordinator over in memory stores with one tenant and one
// teacher identity.
type fixture struct {
	clock       *testClock
	tenant      *auth.Tenant
	identity    *auth.Identity
	tenants     *auth.MemoryTenantRepository
	identities  *auth.MemoryIdentityRepository
	revocations *auth.MemoryRevocationStore
	attempts    *auth.MemoryAttemptStore
	codec       *auth.JWTCodec
	registry    *auth.RevocationRegistry
	store       *auth.IdentityStore
	audit       *auth.AuditLog
	coordinator *auth.Coordinator
}

type fixtureOptions struct {
	config    testConfig
	sink      auth.AuditSink
	plan      auth.Plan
	coordOpts []auth.CoordinatorOption
}

func withConfig(cfg testConfig) func(*fixtureOptions) {
	return func(o *fixtureOptions) { o.config = cfg }
}

func withSink(sink auth.AuditSink) func(*fixtureOptions) {
	return func(o *fixtureOptions) { o.sink = sink }
}

func withPlan(plan auth.Plan) func(*fixtureOptions) {
	return func(o *fixtureOptions) { o.plan = plan }
}

func withCoordinatorOptions(opts ...auth.CoordinatorOption) func(*fixtureOptions) {
	return func(o *fixtureOptions) { o.coordOpts = append(o.coordOpts, opts...) }
}

func newFixture(t *testing.T, opts ...func(*fixtureOptions)) *fixture {
	t.Helper()

	options := &fixtureOptions{plan: auth.PlanBasic}
	for _, opt := range opts {
		opt(options)
	}

	f := &fixture{
		clock:       newTestClock(),
		revocations: auth.NewMemoryRevocationStore(),
		attempts:    auth.NewMemoryAttemptStore(),
		audit:       auth.NewAuditLog(),
	}

	f.tenant = newTenant(options.plan)
	f.identity = newIdentity(t, f.tenant, testIdentifier, auth.RoleTeacher)
	f.tenants = auth.NewMemoryTenantRepository(f.tenant)
	f.identities = auth.NewMemoryIdentityRepository(f.identity)

	f.codec = newTestCodec(t, f.clock.Now)
	f.registry = auth.NewRevocationRegistry(f.revocations, f.codec.MaxTTL(),
		auth.WithRevocationClock(f.clock.Now),
		auth.WithRevocationLogger(quietLogger()),
	)
	f.store = auth.NewIdentityStore(f.identities,
		auth.WithIdentityCache(options.config.GetCacheSize(), options.config.GetCacheTTL()),
		auth.WithIdentityStoreLogger(quietLogger()),
	)

	policy, err := auth.NewAccessPolicyEngine(nil)
	require.NoError(t, err)

	sink := auth.AuditSink(f.audit)
	if options.sink != nil {
		sink = auth.MultiAuditSink{f.audit, options.sink}
	}

	coordOpts := append([]auth.CoordinatorOption{
		auth.WithClock(f.clock.Now),
		auth.WithLogger(quietLogger()),
	}, options.coordOpts...)

	f.coordinator, err = auth.NewCoordinator(auth.Dependencies{
		Codec:       f.codec,
		Verifier:    auth.BcryptVerifier{},
		Revocations: f.registry,
		Tenants: auth.NewTenantResolver(f.tenants,
			auth.WithTenantCache(options.config.GetCacheSize(), options.config.GetCacheTTL()),
			auth.WithTenantResolverLogger(quietLogger()),
		),
		Identities: f.store,
		Attempts: auth.NewLoginAttemptPolicy(f.attempts,
			options.config.GetLoginAttemptThreshold(),
			options.config.GetLoginAttemptWindow(),
			auth.WithAttemptClock(f.clock.Now),
			auth.WithAttemptLogger(quietLogger()),
		),
		Policy: policy,
		Auditor: auth.NewAuditor(sink,
			auth.WithAuditorClock(f.clock.Now),
			auth.WithAuditorLogger(quietLogger()),
		),
	}, options.config, coordOpts...)
	require.NoError(t, err)

	return f
}

func (f *fixture) credentials() auth.Credentials {
	return auth.Credentials{
		Identifier: testIdentifier,
		Secret:     testSecret,
		TenantID:   f.tenant.ID.String(),
	}
}

func (f *fixture) login(t *testing.T) *auth.LoginResult {
	t.Helper()
	result, err := f.coordinator.Login(context.Background(), f.credentials())
	require.NoError(t, err)
	return result
}

func (f *fixture) eventTypes() []auth.AuditEventType {
	var out []auth.AuditEventType
	for _, e := range f.audit.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func (f *fixture) lastEvent(t *testing.T) auth.AuditEvent {
	t.Helper()
	events := f.audit.Events()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

var errStoreDown = errors.New("store unavailable")

// failingSink always fails
type failingSink struct {
	calls int
}

func (s *failingSink) Record(context.Context, auth.AuditEvent) error {
	s.calls++
	return errStoreDown
}
