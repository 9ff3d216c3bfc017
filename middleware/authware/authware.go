package authware

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
	auth "github.com/goliatone/go-tenant-auth"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization
	// ErrTokenMissingOrMalformed is returned when no extractor finds a token
	ErrTokenMissingOrMalformed = errors.New("missing or malformed token")
)

const (
	DefaultContextKey        = "principal"
	DefaultCorrelationHeader = "X-Request-ID"
)

// Runner runs the authenticate, authorize and audit stages for one request.
// *auth.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req auth.PipelineRequest) auth.StageResult
}

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// Pipeline is required
	Pipeline Runner

	// RequiredRoles lists the roles allowed on the route, holding any one
	// of them is enough. The tenant plan must allow every listed role.
	RequiredRoles []auth.Role
	// Operation describes the protected operation, it is optional
	Operation func(router.Context) auth.OperationContext

	ContextKey        string
	TokenLookup       string
	AuthScheme        string
	CorrelationHeader string
}

// New returns a middleware that authenticates the bearer token, authorizes
// the route and stores the principal under ContextKey and in the request
// context.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			stdCtx := ctx.Context()
			if cid := strings.TrimSpace(ctx.GetString(cfg.CorrelationHeader, "")); cid != "" {
				stdCtx = auth.WithCorrelationID(stdCtx, cid)
			}

			// a missing token still goes through the pipeline so the
			// failed authentication is audited
			token, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				cfg.Pipeline.Run(stdCtx, auth.PipelineRequest{RequiredRoles: cfg.RequiredRoles})
				return cfg.ErrorHandler(ctx, err)
			}

			req := auth.PipelineRequest{
				Token:         token,
				RequiredRoles: cfg.RequiredRoles,
			}
			if cfg.Operation != nil {
				req.Operation = cfg.Operation(ctx)
			}

			result := cfg.Pipeline.Run(stdCtx, req)
			if result.Err != nil {
				return cfg.ErrorHandler(ctx, result.Err)
			}

			ctx.Locals(cfg.ContextKey, result.Principal)
			ctx.SetContext(auth.WithPrincipal(stdCtx, result.Principal))

			return cfg.SuccessHandler(ctx)
		}
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Pipeline == nil {
		panic("AUTH: authware configuration: Pipeline is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.CorrelationHeader == "" {
		cfg.CorrelationHeader = DefaultCorrelationHeader
	}

	return cfg
}

// DefaultErrorHandler answers with the error text code. Authorization
// denials are 403, other decisions 401, anything else 500.
func DefaultErrorHandler(c router.Context, err error) error {
	status, code := StatusFor(err)
	return c.JSON(status, map[string]any{
		"error": code,
	})
}

// StatusFor maps a pipeline error to an HTTP status and a text code
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTokenMissingOrMalformed):
		return router.StatusBadRequest, auth.TextCodeTokenMalformed
	case auth.IsAccessDenied(err):
		return router.StatusForbidden, auth.TextCode(err)
	case auth.IsTokenError(err),
		auth.HasTextCode(err, auth.TextCodeTenantNotFound),
		auth.HasTextCode(err, auth.TextCodeTenantInactive),
		auth.HasTextCode(err, auth.TextCodeIdentityNotFound):
		return router.StatusUnauthorized, auth.TextCode(err)
	default:
		return router.StatusInternalServerError, "INTERNAL"
	}
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	if raw == "" && err == nil {
		err = ErrTokenMissingOrMalformed
	}
	return raw, err
}

type TokenExtractor func(c router.Context) (string, error)

// GetExtractors parses a lookup such as
// header:Authorization,cookie:jwt,query:auth_token,param:token
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

func tokenFromHeader(header string, authScheme string) TokenExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			return "", ErrTokenMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromParam(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}
