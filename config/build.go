package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/auditstream"
	"github.com/goliatone/go-tenant-auth/cache"
	"github.com/goliatone/go-tenant-auth/provider/jwks"
	"github.com/goliatone/go-tenant-auth/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// ErrNoIdentitySource is returned by Build when neither repositories nor a
// database are available to read tenants and identities from
var ErrNoIdentitySource = errors.New("identities and tenants need stores.database_dsn or WithRepositories")

// Stack is a coordinator and its collaborators wired from Settings
type Stack struct {
	Coordinator *auth.Coordinator
	Pipeline    *auth.Pipeline
	Codec       *auth.JWTCodec
	Revocations *auth.RevocationRegistry
	Auditor     *auth.Auditor
	// Lifecycle is nil when the identity repository cannot write status
	Lifecycle *auth.IdentityLifecycle
	// Store names the backend holding revocations and attempts:
	// redis, database or memory
	Store string

	closers []func() error
}

// Close releases connections, background refreshers and writers in reverse
// order of creation
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// BuildOption customizes Build
type BuildOption func(*builder)

type builder struct {
	identities  auth.IdentityRepository
	tenants     auth.TenantRepository
	logger      auth.Logger
	now         func() time.Time
	registerer  prometheus.Registerer
	auditOut    io.Writer
	sinks       []auth.AuditSink
	kafkaWriter auditstream.MessageWriter
	jwksOpts    []jwks.Option
	coordOpts   []auth.CoordinatorOption
}

// WithRepositories reads identities and tenants from the given repositories
// instead of the database
func WithRepositories(identities auth.IdentityRepository, tenants auth.TenantRepository) BuildOption {
	return func(b *builder) {
		b.identities = identities
		b.tenants = tenants
	}
}

// WithLogger is handed to every component
func WithLogger(logger auth.Logger) BuildOption {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock is handed to every component
func WithClock(now func() time.Time) BuildOption {
	return func(b *builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithRegisterer registers the auth metrics on reg
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(b *builder) {
		b.registerer = reg
	}
}

// WithAuditWriter writes audit events as JSON lines to w. Without any other
// sink the stack writes them to stdout.
func WithAuditWriter(w io.Writer) BuildOption {
	return func(b *builder) {
		b.auditOut = w
	}
}

// WithAuditSink adds a sink next to the configured ones
func WithAuditSink(sink auth.AuditSink) BuildOption {
	return func(b *builder) {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
	}
}

// WithKafkaWriter replaces the writer built from audit.kafka_brokers
func WithKafkaWriter(w auditstream.MessageWriter) BuildOption {
	return func(b *builder) {
		b.kafkaWriter = w
	}
}

// WithJWKSOptions forwards options to the federation verifier
func WithJWKSOptions(opts ...jwks.Option) BuildOption {
	return func(b *builder) {
		b.jwksOpts = append(b.jwksOpts, opts...)
	}
}

// WithCoordinatorOptions are applied after the ones Build derives
func WithCoordinatorOptions(opts ...auth.CoordinatorOption) BuildOption {
	return func(b *builder) {
		b.coordOpts = append(b.coordOpts, opts...)
	}
}

// Build wires a coordinator from s. Revocations and attempts live in redis
// when stores.redis_url is set, else in the database when
// stores.database_dsn is set, else in process memory. Audit events go to the
// database, to kafka when brokers are listed, and to any extra sinks.
func Build(ctx context.Context, s *Settings, opts ...BuildOption) (_ *Stack, err error) {
	if s == nil {
		return nil, errors.New("settings are required")
	}

	b := &builder{logger: auth.NewSlogLogger(nil), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	stack := &Stack{}
	defer func() {
		if err != nil {
			_ = stack.Close()
		}
	}()

	codec, err := auth.NewTokenCodecFromConfig(s,
		auth.WithCodecClock(b.now),
		auth.WithCodecLogger(b.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	stack.Codec = codec

	var db *bun.DB
	if s.Stores.DatabaseDSN != "" {
		if db, err = OpenDatabase(ctx, s.Stores.DatabaseDSN); err != nil {
			return nil, err
		}
		stack.onClose(db.Close)
	}

	revocations, attempts, err := b.stores(ctx, s, db, stack)
	if err != nil {
		return nil, err
	}

	identityRepo, tenantRepo := b.identities, b.tenants
	if identityRepo == nil || tenantRepo == nil {
		if db == nil {
			return nil, ErrNoIdentitySource
		}
		m := repository.NewRepositoryManager(db, repository.WithIdentitiesClock(b.now))
		if identityRepo == nil {
			identityRepo = m.Identities()
		}
		if tenantRepo == nil {
			tenantRepo = m.Tenants()
		}
	}

	var metrics *auth.Metrics
	if b.registerer != nil {
		if metrics, err = auth.NewMetrics(b.registerer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	sink, err := b.auditSink(s, db, stack)
	if err != nil {
		return nil, err
	}
	stack.Auditor = auth.NewAuditor(sink,
		auth.WithAuditorClock(b.now),
		auth.WithAuditorLogger(b.logger),
		auth.WithAuditorMetrics(metrics),
	)

	stack.Revocations = auth.NewRevocationRegistry(revocations, codec.MaxTTL(),
		auth.WithRevocationClock(b.now),
		auth.WithRevocationLogger(b.logger),
	)

	identities := auth.NewIdentityStore(identityRepo,
		auth.WithIdentityCache(s.GetCacheSize(), s.GetCacheTTL()),
		auth.WithIdentityStoreLogger(b.logger),
	)

	policy, err := auth.NewAccessPolicyEngine(nil)
	if err != nil {
		return nil, err
	}

	coordOpts := []auth.CoordinatorOption{
		auth.WithLogger(b.logger),
		auth.WithClock(b.now),
		auth.WithMetrics(metrics),
	}
	if s.Federation.Enabled() {
		verifier, err := jwks.New(s.JWKSConfig(), append([]jwks.Option{
			jwks.WithClock(b.now),
			jwks.WithLogger(b.logger),
		}, b.jwksOpts...)...)
		if err != nil {
			return nil, fmt.Errorf("federation: %w", err)
		}
		stack.onClose(func() error {
			verifier.Close()
			return nil
		})
		coordOpts = append(coordOpts, auth.WithAssertionVerifier(verifier))
	}

	stack.Coordinator, err = auth.NewCoordinator(auth.Dependencies{
		Codec:       codec,
		Verifier:    auth.BcryptVerifier{},
		Revocations: stack.Revocations,
		Tenants: auth.NewTenantResolver(tenantRepo,
			auth.WithTenantCache(s.GetCacheSize(), s.GetCacheTTL()),
			auth.WithTenantResolverLogger(b.logger),
		),
		Identities: identities,
		Attempts: auth.NewLoginAttemptPolicy(attempts,
			s.GetLoginAttemptThreshold(),
			s.GetLoginAttemptWindow(),
			auth.WithAttemptClock(b.now),
			auth.WithAttemptLogger(b.logger),
		),
		Policy:  policy,
		Auditor: stack.Auditor,
	}, s, append(coordOpts, b.coordOpts...)...)
	if err != nil {
		return nil, err
	}
	stack.Pipeline = auth.NewPipeline(stack.Coordinator)

	if writer, ok := identityRepo.(auth.IdentityStatusWriter); ok {
		stack.Lifecycle = auth.NewIdentityLifecycle(writer, stack.Revocations,
			auth.WithLifecycleClock(b.now),
			auth.WithLifecycleAuditor(stack.Auditor),
			auth.WithLifecycleIdentityStore(identities),
			auth.WithLifecycleLogger(b.logger),
		)
	}

	return stack, nil
}

func (b *builder) stores(ctx context.Context, s *Settings, db *bun.DB, stack *Stack) (auth.RevocationStore, auth.AttemptStore, error) {
	switch {
	case s.Stores.RedisURL != "":
		client, err := cache.Connect(ctx, s.Stores.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		stack.onClose(client.Close)
		stack.Store = "redis"
		prefix := cache.WithPrefix(s.Stores.RedisPrefix)
		return cache.NewRevocationStore(client, prefix), cache.NewAttemptStore(client, prefix), nil

	case db != nil:
		stack.Store = "database"
		return repository.NewRevocationStore(db), repository.NewAttemptStore(db), nil
	}

	b.logger.Warn("no shared store configured, revocations and lockouts are local to this process")
	stack.Store = "memory"
	return auth.NewMemoryRevocationStore(), auth.NewMemoryAttemptStore(), nil
}

func (b *builder) auditSink(s *Settings, db *bun.DB, stack *Stack) (auth.AuditSink, error) {
	sinks := append(auth.MultiAuditSink{}, b.sinks...)

	if db != nil {
		sinks = append(sinks, repository.NewAuditEventSink(db))
	}

	if len(s.Audit.KafkaBrokers) > 0 {
		writer := b.kafkaWriter
		if writer == nil {
			w, err := auditstream.NewKafkaWriter(s.Audit.KafkaBrokers)
			if err != nil {
				return nil, err
			}
			writer = w
		}
		sink := auditstream.NewKafkaSink(writer, auditstream.WithTopic(s.Audit.KafkaTopic))
		stack.onClose(sink.Close)
		sinks = append(sinks, sink)
	}

	switch {
	case b.auditOut != nil:
		sinks = append(sinks, auditstream.NewJSONLineSink(b.auditOut))
	case len(sinks) == 0:
		sinks = append(sinks, auditstream.NewJSONLineSink(os.Stdout))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// OpenDatabase opens dsn with the sqlite driver bun selects for the build
func OpenDatabase(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
