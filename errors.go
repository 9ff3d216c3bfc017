package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeAccountLocked         = "ACCOUNT_LOCKED"
	TextCodeTenantNotFound        = "TENANT_NOT_FOUND"
	TextCodeTenantInactive        = "TENANT_INACTIVE"
	TextCodeIdentityNotFound      = "IDENTITY_NOT_FOUND"
	TextCodeIdentityInactive      = "IDENTITY_INACTIVE"
	TextCodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenWrongClass       = "TOKEN_WRONG_CLASS"
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeTokenRevoked          = "TOKEN_REVOKED"
	TextCodeRoleDenied            = "ROLE_DENIED"
	TextCodePermissionDenied      = "PERMISSION_DENIED"
	TextCodePlanInsufficient      = "PLAN_INSUFFICIENT"
	TextCodeAuditWriteFailed      = "AUDIT_WRITE_FAILED"
	TextCodeImmutableClaim        = "IMMUTABLE_CLAIM_MUTATION"
	TextCodeInvalidTransition     = "INVALID_STATE_TRANSITION"
	TextCodeInvalidRequest        = "INVALID_REQUEST"
	TextCodeRecordNotFound        = "RECORD_NOT_FOUND"
)

// ErrInvalidCredentials is the only error login surfaces for credential related
// denials. Unknown tenant, unknown identifier, wrong secret and inactive identity
// all collapse into it.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned when the login attempt threshold was reached
var ErrAccountLocked = goerrors.New("account is locked", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeUnauthorized)

// ErrTenantNotFound is returned when the tenant does not exist or the school does not belong to it
var ErrTenantNotFound = goerrors.New("tenant not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTenantNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrTenantInactive is returned for tenants that exist but are disabled
var ErrTenantInactive = goerrors.New("tenant is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeTenantInactive).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is returned when no active, non deleted identity matches
// the exact tenant, school and subject triple.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityInactive is returned by authorization when the identity is not active
var ErrIdentityInactive = goerrors.New("identity is not active", goerrors.CategoryAuthz).
	WithTextCode(TextCodeIdentityInactive).
	WithCode(goerrors.CodeForbidden)

var ErrInvalidSignature = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalidSignature).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrWrongClass is returned when a refresh token is presented where an access
// token is required, or the other way around.
var ErrWrongClass = goerrors.New("token class mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenWrongClass).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrRevoked is returned when the token, its session or its subject was revoked
var ErrRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

var ErrRoleDenied = goerrors.New("required role not held", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRoleDenied).
	WithCode(goerrors.CodeForbidden)

var ErrPermissionDenied = goerrors.New("required permission not held", goerrors.CategoryAuthz).
	WithTextCode(TextCodePermissionDenied).
	WithCode(goerrors.CodeForbidden)

// ErrPlanInsufficient is returned when the tenant plan is not allowed for every required role
var ErrPlanInsufficient = goerrors.New("subscription plan does not allow this operation", goerrors.CategoryAuthz).
	WithTextCode(TextCodePlanInsufficient).
	WithCode(goerrors.CodeForbidden)

// ErrAuditWriteFailed is logged when an audit sink rejects an event. It is never
// returned to callers of the coordinator.
var ErrAuditWriteFailed = goerrors.New("audit write failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeAuditWriteFailed).
	WithCode(goerrors.CodeInternal)

// ErrImmutableClaimMutation signals a claims decorator touched a protected claim
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryValidation).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(goerrors.CodeInternal)

var ErrInvalidTransition = goerrors.New("invalid identity status transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

var ErrInvalidRequest = goerrors.New("invalid request", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrRecordNotFound is the store level miss. Stores return it (or an error
// wrapping it) so resolvers can tell a miss apart from a transient failure.
var ErrRecordNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRecordNotFound).
	WithCode(goerrors.CodeNotFound)

// HasTextCode walks the error chain looking for a rich error with the given text code
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !errors.As(err, &richErr) || richErr == nil {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

// TextCode returns the text code of the outermost rich error, if any
func TextCode(err error) string {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// IsRecordNotFound reports store misses
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || HasTextCode(err, TextCodeRecordNotFound)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired) || HasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) || HasTextCode(err, TextCodeTokenMalformed)
}

// IsTokenError reports whether err belongs to the token verification family
func IsTokenError(err error) bool {
	for _, code := range []string{
		TextCodeTokenInvalidSignature,
		TextCodeTokenExpired,
		TextCodeTokenWrongClass,
		TextCodeTokenMalformed,
		TextCodeTokenRevoked,
	} {
		if HasTextCode(err, code) {
			return true
		}
	}
	return false
}

// IsAccessDenied reports whether err is an authorization denial
func IsAccessDenied(err error) bool {
	return HasTextCode(err, TextCodeRoleDenied) ||
		HasTextCode(err, TextCodePermissionDenied) ||
		HasTextCode(err, TextCodePlanInsufficient) ||
		HasTextCode(err, TextCodeIdentityInactive)
}

// withDetail returns a copy of a taxonomy error carrying metadata. The copy
// unwraps to base so errors.Is keeps working against the exported sentinels.
func withDetail(base *goerrors.Error, cause error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	if cause != nil {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["cause"] = cause.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
