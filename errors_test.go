package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/goliatone/go-tenant-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestTextCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "taxonomy error", err: auth.ErrRevoked, expected: auth.TextCodeTokenRevoked},
		{name: "wrapped taxonomy error", err: fmt.Errorf("outer: %w", auth.ErrAccountLocked), expected: auth.TextCodeAccountLocked},
		{name: "plain error", err: errors.New("boom"), expected: ""},
		{name: "nil error", err: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.TextCode(tt.err))
		})
	}
}

func TestIsRecordNotFound(t *testing.T) {
	assert.True(t, auth.IsRecordNotFound(auth.ErrRecordNotFound))
	assert.True(t, auth.IsRecordNotFound(fmt.Errorf("repo: %w", auth.ErrRecordNotFound)))
	assert.False(t, auth.IsRecordNotFound(errors.New("connection refused")))
	assert.False(t, auth.IsRecordNotFound(nil))
}

func TestTokenErrorFamily(t *testing.T) {
	for _, err := range []error{
		auth.ErrInvalidSignature,
		auth.ErrTokenExpired,
		auth.ErrWrongClass,
		auth.ErrTokenMalformed,
		auth.ErrRevoked,
	} {
		assert.True(t, auth.IsTokenError(err), auth.TextCode(err))
	}

	assert.False(t, auth.IsTokenError(auth.ErrInvalidCredentials))
	assert.False(t, auth.IsTokenError(errors.New("token is expired")))
	assert.True(t, auth.IsTokenExpiredError(auth.ErrTokenExpired))
	assert.True(t, auth.IsMalformedError(auth.ErrTokenMalformed))
	assert.False(t, auth.IsMalformedError(auth.ErrTokenExpired))
}

func TestIsAccessDenied(t *testing.T) {
	assert.True(t, auth.IsAccessDenied(auth.ErrRoleDenied))
	assert.True(t, auth.IsAccessDenied(auth.ErrPlanInsufficient))
	assert.True(t, auth.IsAccessDenied(auth.ErrPermissionDenied))
	assert.True(t, auth.IsAccessDenied(auth.ErrIdentityInactive))
	assert.False(t, auth.IsAccessDenied(auth.ErrRevoked))
}

func TestTaxonomyCategories(t *testing.T) {
	assert.Equal(t, goerrors.CategoryAuth, auth.ErrInvalidCredentials.Category)
	assert.Equal(t, goerrors.CategoryRateLimit, auth.ErrAccountLocked.Category)
	assert.Equal(t, goerrors.CategoryNotFound, auth.ErrTenantNotFound.Category)
	assert.Equal(t, goerrors.CategoryAuthz, auth.ErrPlanInsufficient.Category)
	assert.Equal(t, goerrors.CategoryOperation, auth.ErrAuditWriteFailed.Category)
	assert.Equal(t, auth.TextCodeTokenRevoked, auth.ErrRevoked.TextCode)
}
