package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Credentials is the login input tuple
type Credentials struct {
	Identifier string `form:"identifier" json:"identifier"`
	Secret     string `form:"secret" json:"secret"`
	TenantID   string `form:"tenant_id" json:"tenant_id"`
}

// Validate will validate the credentials shape
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Identifier, validation.Required, validation.Length(1, 254)),
		validation.Field(&c.Secret, validation.Required, validation.Length(1, 1024)),
		validation.Field(&c.TenantID, validation.Required, is.UUID),
	)
}

// ExternalIdentity is an identity asserted by a federated provider that was
// already verified. It replaces the secret comparison during login.
type ExternalIdentity struct {
	Provider   string
	Subject    string
	Identifier string
	TenantID   string
	Claims     map[string]any
}

// Validate will validate the external identity shape
func (e ExternalIdentity) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Provider, validation.Required),
		validation.Field(&e.Identifier, validation.Required, validation.Length(1, 254)),
		validation.Field(&e.TenantID, validation.Required, is.UUID),
	)
}

// AssertionVerifier turns a raw external assertion into a verified identity
type AssertionVerifier interface {
	VerifyAssertion(ctx context.Context, assertion string) (ExternalIdentity, error)
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Tokens        TokenPair
	Identity      *Identity
	Tenant        *Tenant
	CorrelationID string
}

// RefreshResult is returned by a successful refresh. RefreshToken is only
// set when rotation is enabled.
type RefreshResult struct {
	AccessToken   string
	Access        TokenPayload
	RefreshToken  string
	Refresh       *TokenPayload
	CorrelationID string
}
