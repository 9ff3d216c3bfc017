package jwks

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-tenant-auth"
)

const (
	defaultIdentifierClaim = "email"
	defaultTenantClaim     = "tenant_id"
)

// Config describes one external provider
type Config struct {
	Provider        string
	JWKSetURL       string
	Issuer          string
	Audience        string
	Algorithms      []string
	IdentifierClaim string
	TenantClaim     string
	Leeway          time.Duration
}

// Validate will validate the provider configuration
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Provider, validation.Required),
		validation.Field(&c.Issuer, validation.Required),
		validation.Field(&c.Audience, validation.Required),
	)
}

// Verifier implements auth.AssertionVerifier
type Verifier struct {
	cfg     Config
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	now     func() time.Time
	logger  auth.Logger
}

var _ auth.AssertionVerifier = (*Verifier)(nil)

// Option configures a Verifier
type Option func(*Verifier)

// WithClock overrides time.Now for expiry checks
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for refresh failures
func WithLogger(logger auth.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithGivenKeys verifies against static keys instead of fetching JWKSetURL
func WithGivenKeys(keys map[string]keyfunc.GivenKey) Option {
	return func(v *Verifier) {
		v.keyfunc = keyfunc.NewGiven(keys).Keyfunc
	}
}

// New builds a verifier. Unless WithGivenKeys is used the JWK set is fetched
// once here and refreshed in the background.
func New(cfg Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdentifierClaim == "" {
		cfg.IdentifierClaim = defaultIdentifierClaim
	}
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = defaultTenantClaim
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{"RS256", "ES256"}
	}

	v := &Verifier{cfg: cfg, now: time.Now, logger: logAdapter{}}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	if v.keyfunc == nil {
		if cfg.JWKSetURL == "" {
			return nil, fmt.Errorf("jwks: provider %s requires a JWK set url or given keys", cfg.Provider)
		}
		jwks, err := keyfunc.Get(cfg.JWKSetURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				v.logger.Error("jwks refresh failed provider=%s: %v", cfg.Provider, err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: failed to get key set: %w", err)
		}
		v.jwks = jwks
		v.keyfunc = jwks.Keyfunc
	}

	return v, nil
}

// VerifyAssertion checks signature, issuer, audience and expiry, then maps
// the configured claims to an external identity.
func (v *Verifier) VerifyAssertion(_ context.Context, assertion string) (auth.ExternalIdentity, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	)

	if _, err := parser.ParseWithClaims(assertion, claims, v.keyfunc); err != nil {
		return auth.ExternalIdentity{}, goerrors.Wrap(err, goerrors.CategoryAuth, "external assertion rejected").
			WithTextCode(auth.TextCodeInvalidCredentials)
	}

	subject, _ := claims.GetSubject()
	ext := auth.ExternalIdentity{
		Provider:   v.cfg.Provider,
		Subject:    subject,
		Identifier: auth.NormalizeIdentifier(stringClaim(claims, v.cfg.IdentifierClaim)),
		TenantID:   strings.TrimSpace(stringClaim(claims, v.cfg.TenantClaim)),
		Claims:     map[string]any(claims),
	}

	if err := ext.Validate(); err != nil {
		return auth.ExternalIdentity{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "external assertion is missing claims").
			WithTextCode(auth.TextCodeInvalidCredentials)
	}
	return ext, nil
}

// Close stops the background refresh of a fetched key set
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return value
}

type logAdapter struct{}

func (logAdapter) Debug(format string, args ...any) {}
func (logAdapter) Info(format string, args ...any)  {}
func (logAdapter) Warn(format string, args ...any)  { log.Printf("[WARN] "+format, args...) }
func (logAdapter) Error(format string, args ...any) { log.Printf("[ERROR] "+format, args...) }
