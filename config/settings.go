package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/provider/jwks"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration. It implements auth.Config.
type Settings struct {
	Tokens     TokenSettings      `yaml:"tokens"`
	Lockout    LockoutSettings    `yaml:"lockout"`
	Cache      CacheSettings      `yaml:"cache"`
	Stores     StoreSettings      `yaml:"stores"`
	Audit      AuditSettings      `yaml:"audit"`
	Federation FederationSettings `yaml:"federation"`
}

// TokenSettings holds signing material and lifetimes
type TokenSettings struct {
	SigningMethod    string        `yaml:"signing_method" env:"TENANT_AUTH_SIGNING_METHOD"`
	AccessKey        string        `yaml:"access_key" env:"TENANT_AUTH_ACCESS_SIGNING_KEY"`
	RefreshKey       string        `yaml:"refresh_key" env:"TENANT_AUTH_REFRESH_SIGNING_KEY"`
	AccessTTL        time.Duration `yaml:"access_ttl" env:"TENANT_AUTH_ACCESS_TOKEN_TTL"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl" env:"TENANT_AUTH_REFRESH_TOKEN_TTL"`
	Issuer           string        `yaml:"issuer" env:"TENANT_AUTH_ISSUER"`
	Audience         []string      `yaml:"audience" env:"TENANT_AUTH_AUDIENCE" envSeparator:","`
	ClockSkew        time.Duration `yaml:"clock_skew" env:"TENANT_AUTH_CLOCK_SKEW"`
	RotateRefresh    bool          `yaml:"rotate_refresh" env:"TENANT_AUTH_ROTATE_REFRESH_TOKENS"`
	IdentityStaleAge time.Duration `yaml:"identity_staleness" env:"TENANT_AUTH_IDENTITY_STALENESS"`
	BcryptCost       int           `yaml:"bcrypt_cost" env:"TENANT_AUTH_BCRYPT_COST"`
}

// LockoutSettings controls the login attempt policy
type LockoutSettings struct {
	Threshold int           `yaml:"threshold" env:"TENANT_AUTH_LOGIN_ATTEMPT_THRESHOLD"`
	Window    time.Duration `yaml:"window" env:"TENANT_AUTH_LOGIN_ATTEMPT_WINDOW"`
}

// CacheSettings bounds the tenant and identity caches
type CacheSettings struct {
	TTL  time.Duration `yaml:"ttl" env:"TENANT_AUTH_CACHE_TTL"`
	Size int           `yaml:"size" env:"TENANT_AUTH_CACHE_SIZE"`
}

// StoreSettings locates the backing stores. Empty values select in memory stores.
type StoreSettings struct {
	DatabaseDSN string `yaml:"database_dsn" env:"TENANT_AUTH_DATABASE_DSN"`
	RedisURL    string `yaml:"redis_url" env:"TENANT_AUTH_REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" env:"TENANT_AUTH_REDIS_PREFIX"`
}

// AuditSettings configures the audit stream
type AuditSettings struct {
	KafkaBrokers []string `yaml:"kafka_brokers" env:"TENANT_AUTH_AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"TENANT_AUTH_AUDIT_KAFKA_TOPIC"`
}

// FederationSettings configures one external identity provider
type FederationSettings struct {
	Provider        string   `yaml:"provider" env:"TENANT_AUTH_FEDERATION_PROVIDER"`
	JWKSetURL       string   `yaml:"jwks_url" env:"TENANT_AUTH_FEDERATION_JWKS_URL"`
	Issuer          string   `yaml:"issuer" env:"TENANT_AUTH_FEDERATION_ISSUER"`
	Audience        string   `yaml:"audience" env:"TENANT_AUTH_FEDERATION_AUDIENCE"`
	Algorithms      []string `yaml:"algorithms" env:"TENANT_AUTH_FEDERATION_ALGORITHMS" envSeparator:","`
	IdentifierClaim string   `yaml:"identifier_claim" env:"TENANT_AUTH_FEDERATION_IDENTIFIER_CLAIM"`
	TenantClaim     string   `yaml:"tenant_claim" env:"TENANT_AUTH_FEDERATION_TENANT_CLAIM"`
}

// Enabled reports whether a provider was configured
func (f FederationSettings) Enabled() bool {
	return strings.TrimSpace(f.JWKSetURL) != ""
}

var _ auth.Config = (*Settings)(nil)

// Defaults returns the settings used when neither file nor env set a value
func Defaults() *Settings {
	return &Settings{
		Tokens: TokenSettings{
			SigningMethod: auth.SigningMethodHS256,
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "tenant-auth",
			BcryptCost:    12,
		},
		Lockout: LockoutSettings{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Cache: CacheSettings{
			TTL:  30 * time.Second,
			Size: 1024,
		},
		Stores: StoreSettings{
			RedisPrefix: "tenant-auth",
		},
		Audit: AuditSettings{
			KafkaTopic: "tenant-auth.audit",
		},
		Federation: FederationSettings{
			IdentifierClaim: "email",
			TenantClaim:     "tenant_id",
		},
	}
}

// Load resolves settings in order: defaults, then the YAML file at path,
// then TENANT_AUTH_ environment variables. A missing file is not an error;
// an empty path skips the file.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, s); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	s.Tokens.SigningMethod = strings.ToUpper(strings.TrimSpace(s.Tokens.SigningMethod))

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the resolved settings
func (s *Settings) Validate() error {
	t := &s.Tokens
	if err := validation.ValidateStruct(t,
		validation.Field(&t.SigningMethod, validation.Required, validation.In(auth.SigningMethodHS256, auth.SigningMethodRS256)),
		validation.Field(&t.AccessKey, validation.Required),
		validation.Field(&t.RefreshKey, validation.Required, validation.By(notEqual(t.AccessKey))),
		validation.Field(&t.AccessTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&t.RefreshTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&t.ClockSkew, validation.Min(time.Duration(0)), validation.Max(5*time.Minute)),
		validation.Field(&t.IdentityStaleAge, validation.Min(time.Duration(0))),
		validation.Field(&t.BcryptCost, validation.Min(4), validation.Max(31)),
	); err != nil {
		return fmt.Errorf("tokens: %w", err)
	}

	l := &s.Lockout
	if err := validation.ValidateStruct(l,
		validation.Field(&l.Threshold, validation.Required, validation.Min(1)),
		validation.Field(&l.Window, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return fmt.Errorf("lockout: %w", err)
	}

	c := &s.Cache
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TTL, validation.Min(time.Duration(0)), validation.Max(time.Minute)),
		validation.Field(&c.Size, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	st := &s.Stores
	if err := validation.ValidateStruct(st,
		validation.Field(&st.RedisPrefix, validation.Required),
	); err != nil {
		return fmt.Errorf("stores: %w", err)
	}

	if len(s.Audit.KafkaBrokers) > 0 {
		a := &s.Audit
		if err := validation.ValidateStruct(a,
			validation.Field(&a.KafkaTopic, validation.Required),
		); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}

	if s.Federation.Enabled() {
		f := &s.Federation
		if err := validation.ValidateStruct(f,
			validation.Field(&f.JWKSetURL, is.URL),
		); err != nil {
			return fmt.Errorf("federation: %w", err)
		}
		if err := s.JWKSConfig().Validate(); err != nil {
			return fmt.Errorf("federation: %w", err)
		}
	}
	return nil
}

// JWKSConfig maps the federation section to a provider configuration
func (s *Settings) JWKSConfig() jwks.Config {
	f := s.Federation
	return jwks.Config{
		Provider:        f.Provider,
		JWKSetURL:       f.JWKSetURL,
		Issuer:          f.Issuer,
		Audience:        f.Audience,
		Algorithms:      f.Algorithms,
		IdentifierClaim: f.IdentifierClaim,
		TenantClaim:     f.TenantClaim,
		Leeway:          s.Tokens.ClockSkew,
	}
}

func notEqual(other string) validation.RuleFunc {
	return func(value interface{}) error {
		v, _ := value.(string)
		if v != "" && v == other {
			return errors.New("must differ from access key")
		}
		return nil
	}
}

func (s *Settings) GetSigningMethod() string { return s.Tokens.SigningMethod }

func (s *Settings) GetAccessSigningKey() string { return s.Tokens.AccessKey }

func (s *Settings) GetRefreshSigningKey() string { return s.Tokens.RefreshKey }

func (s *Settings) GetAccessTokenTTL() time.Duration { return s.Tokens.AccessTTL }

func (s *Settings) GetRefreshTokenTTL() time.Duration { return s.Tokens.RefreshTTL }

func (s *Settings) GetIssuer() string { return s.Tokens.Issuer }

func (s *Settings) GetAudience() []string { return s.Tokens.Audience }

func (s *Settings) GetClockSkew() time.Duration { return s.Tokens.ClockSkew }

func (s *Settings) GetLoginAttemptThreshold() int { return s.Lockout.Threshold }

func (s *Settings) GetLoginAttemptWindow() time.Duration { return s.Lockout.Window }

func (s *Settings) GetCacheTTL() time.Duration { return s.Cache.TTL }

func (s *Settings) GetCacheSize() int { return s.Cache.Size }

func (s *Settings) GetIdentityStaleness() time.Duration { return s.Tokens.IdentityStaleAge }

func (s *Settings) GetRotateRefreshTokens() bool { return s.Tokens.RotateRefresh }

// GetBcryptCost returns the cost used when hashing new secrets
func (s *Settings) GetBcryptCost() int { return s.Tokens.BcryptCost }
