package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec signs and verifies bearer tokens
type TokenCodec interface {
	Issue(ctx context.Context, payload TokenPayload, class TokenClass) (string, TokenPayload, error)
	Verify(raw string, expected TokenClass) (TokenPayload, error)
}

// TokenPair is the result of a successful login
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Access       TokenPayload
	Refresh      TokenPayload
}

// SessionID returns the session both tokens are bound to
func (p TokenPair) SessionID() string {
	return p.Access.SessionID
}

// TokenCodecConfig holds key material and expiry policy per class
type TokenCodecConfig struct {
	AccessKey  SigningKey
	RefreshKey SigningKey
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   []string
	Leeway     time.Duration
}

// JWTCodec implements TokenCodec with JWTs. Verification is local, it only
// reads the key rings and the clock.
type JWTCodec struct {
	rings     map[TokenClass]*keyRing
	ttl       map[TokenClass]time.Duration
	issuer    string
	audience  jwt.ClaimStrings
	leeway    time.Duration
	now       func() time.Time
	logger    Logger
	decorator ClaimsDecorator
	retired   map[TokenClass][]SigningKey
}

var _ TokenCodec = (*JWTCodec)(nil)

// TokenCodecOption customizes the codec
type TokenCodecOption func(*JWTCodec)

// WithCodecClock injects the clock used for issuance and expiry checks
func WithCodecClock(now func() time.Time) TokenCodecOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCodecLogger sets the codec logger
func WithCodecLogger(logger Logger) TokenCodecOption {
	return func(c *JWTCodec) {
		c.logger = normalizeLogger(logger)
	}
}

// WithClaimsDecorator configures a ClaimsDecorator for enriching tokens.
func WithClaimsDecorator(decorator ClaimsDecorator) TokenCodecOption {
	return func(c *JWTCodec) {
		c.decorator = normalizeClaimsDecorator(decorator)
	}
}

// WithRetiredKeys keeps accepting tokens signed by rotated out keys
func WithRetiredKeys(class TokenClass, keys ...SigningKey) TokenCodecOption {
	return func(c *JWTCodec) {
		c.retired[class] = append(c.retired[class], keys...)
	}
}

// NewTokenCodec creates a codec. Access and refresh keys must differ.
func NewTokenCodec(cfg TokenCodecConfig, opts ...TokenCodecOption) (*JWTCodec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, goerrors.New("token TTLs must be positive", goerrors.CategoryBadInput)
	}

	if sameKeyMaterial(cfg.AccessKey, cfg.RefreshKey) {
		return nil, goerrors.New("access and refresh tokens must use distinct keys", goerrors.CategoryBadInput)
	}

	c := &JWTCodec{
		ttl: map[TokenClass]time.Duration{
			ClassAccess:  cfg.AccessTTL,
			ClassRefresh: cfg.RefreshTTL,
		},
		issuer:    cfg.Issuer,
		leeway:    cfg.Leeway,
		now:       time.Now,
		logger:    defLogger{},
		decorator: noopClaimsDecorator{},
		retired:   map[TokenClass][]SigningKey{},
	}
	if len(cfg.Audience) > 0 {
		c.audience = append(jwt.ClaimStrings(nil), cfg.Audience...)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	access, err := newKeyRing(ClassAccess, cfg.AccessKey, c.retired[ClassAccess]...)
	if err != nil {
		return nil, err
	}

	refresh, err := newKeyRing(ClassRefresh, cfg.RefreshKey, c.retired[ClassRefresh]...)
	if err != nil {
		return nil, err
	}

	c.rings = map[TokenClass]*keyRing{
		ClassAccess:  access,
		ClassRefresh: refresh,
	}

	return c, nil
}

// NewTokenCodecFromConfig builds key material from a Config
func NewTokenCodecFromConfig(cfg Config, opts ...TokenCodecOption) (*JWTCodec, error) {
	accessKey, err := SigningKeyFromString("", cfg.GetSigningMethod(), cfg.GetAccessSigningKey())
	if err != nil {
		return nil, err
	}

	refreshKey, err := SigningKeyFromString("", cfg.GetSigningMethod(), cfg.GetRefreshSigningKey())
	if err != nil {
		return nil, err
	}

	return NewTokenCodec(TokenCodecConfig{
		AccessKey:  accessKey,
		RefreshKey: refreshKey,
		AccessTTL:  cfg.GetAccessTokenTTL(),
		RefreshTTL: cfg.GetRefreshTokenTTL(),
		Issuer:     cfg.GetIssuer(),
		Audience:   cfg.GetAudience(),
		Leeway:     cfg.GetClockSkew(),
	}, opts...)
}

// TTL returns the configured lifetime for class
func (c *JWTCodec) TTL(class TokenClass) time.Duration {
	return c.ttl[class]
}

// MaxTTL returns the lifetime of the longest lived class plus leeway
func (c *JWTCodec) MaxTTL() time.Duration {
	return max(c.ttl[ClassAccess], c.ttl[ClassRefresh]) + c.leeway
}

// Issue signs a token for payload. A fresh jti is always generated and a new
// session is opened when payload has none.
func (c *JWTCodec) Issue(ctx context.Context, payload TokenPayload, class TokenClass) (string, TokenPayload, error) {
	if !class.Valid() {
		return "", TokenPayload{}, withDetail(ErrInvalidRequest, nil, map[string]any{"reason": "unknown token class", "class": class})
	}

	if payload.SubjectID == "" || payload.TenantID == "" || payload.SchoolID == "" {
		return "", TokenPayload{}, withDetail(ErrInvalidRequest, nil, map[string]any{
			"reason": "subject, tenant and school are required to issue a token",
		})
	}

	ring := c.rings[class]
	issued := c.now().Truncate(time.Millisecond)
	now := issued.Truncate(time.Second)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   payload.SubjectID,
			Audience:  c.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl[class])),
			ID:        uuid.NewString(),
		},
		TenantID:    payload.TenantID,
		SchoolID:    payload.SchoolID,
		Roles:       payload.Roles,
		Permissions: payload.Permissions,
		Class:       class,
		SessionID:   payload.SessionID,
		IssuedAtMs:  issued.UnixMilli(),
		Metadata:    payload.Metadata,
	}

	if claims.SessionID == "" {
		claims.SessionID = uuid.NewString()
	}

	snapshot := captureImmutableClaims(claims)
	if err := c.decorator.Decorate(ctx, payload, claims); err != nil {
		c.logger.Error("token codec claims decorator failed: %v", err)
		return "", TokenPayload{}, err
	}

	if err := snapshot.validate(claims); err != nil {
		return "", TokenPayload{}, err
	}

	token := jwt.NewWithClaims(ring.active.Method, claims)
	token.Header["kid"] = ring.active.ID

	signed, err := token.SignedString(ring.active.Sign)
	if err != nil {
		return "", TokenPayload{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, claims.Payload(), nil
}

// IssuePair issues an access and a refresh token bound to the same session
func (c *JWTCodec) IssuePair(ctx context.Context, payload TokenPayload) (TokenPair, error) {
	if payload.SessionID == "" {
		payload.SessionID = uuid.NewString()
	}

	access, accessPayload, err := c.Issue(ctx, payload, ClassAccess)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshPayload, err := c.Issue(ctx, payload, ClassRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Access:       accessPayload,
		Refresh:      refreshPayload,
	}, nil
}

// Verify checks signature, expiry, class and required claims of raw. The
// signature is checked against the expected class first, a token is only
// reported as WrongClass when the other class's keys verify it.
func (c *JWTCodec) Verify(raw string, expected TokenClass) (TokenPayload, error) {
	ring, ok := c.rings[expected]
	if !ok {
		return TokenPayload{}, withDetail(ErrInvalidRequest, nil, map[string]any{"reason": "unknown token class", "class": expected})
	}

	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return TokenPayload{}, ErrTokenMalformed
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, ring.keyfunc, c.parserOptions(ring)...)
	if err != nil {
		mapped := c.mapParseError(err)
		if HasTextCode(mapped, TextCodeTokenInvalidSignature) {
			if actual, ok := c.signedByOtherClass(raw, expected); ok {
				return TokenPayload{}, wrongClass(expected, actual)
			}
		}
		return TokenPayload{}, mapped
	}

	if !token.Valid {
		return TokenPayload{}, ErrInvalidSignature
	}

	if !claims.Class.Valid() {
		return TokenPayload{}, withDetail(ErrTokenMalformed, nil, map[string]any{"claim": "cls"})
	}
	if claims.Class != expected {
		return TokenPayload{}, wrongClass(expected, claims.Class)
	}

	if field := claims.missingRequired(); field != "" {
		return TokenPayload{}, withDetail(ErrTokenMalformed, nil, map[string]any{"claim": field})
	}

	return claims.Payload(), nil
}

func (c *JWTCodec) parserOptions(ring *keyRing) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(ring.methods),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		opts = append(opts, jwt.WithAudience(c.audience...))
	}
	return opts
}

// signedByOtherClass reports whether a key of another class verifies raw and
// the verified class tag names that class. Expiry is not considered.
func (c *JWTCodec) signedByOtherClass(raw string, expected TokenClass) (TokenClass, bool) {
	for class, ring := range c.rings {
		if class == expected {
			continue
		}
		claims := &TokenClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, ring.keyfunc,
			jwt.WithValidMethods(ring.methods),
			jwt.WithoutClaimsValidation(),
		)
		if err == nil && claims.Class == class {
			return class, true
		}
	}
	return "", false
}

func wrongClass(expected, actual TokenClass) error {
	return withDetail(ErrWrongClass, nil, map[string]any{
		"expected": expected,
		"actual":   actual,
	})
}

func (c *JWTCodec) mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return withDetail(ErrTokenMalformed, err, nil)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return withDetail(ErrInvalidSignature, err, nil)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		c.logger.Debug("token codec rejected claims: %v", err)
		return withDetail(ErrTokenMalformed, err, nil)
	}
}
