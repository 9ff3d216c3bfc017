package auth

import (
	"context"
	"maps"
)

// ClaimsDecorator enriches a token before it is signed. Only Metadata may
// change; the codec rejects issuance when a protected claim was touched.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, payload TokenPayload, claims *TokenClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, payload TokenPayload, claims *TokenClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, payload TokenPayload, claims *TokenClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload, claims)
}

// ClaimsDecorators runs decorators in order and stops at the first error
type ClaimsDecorators []ClaimsDecorator

func (d ClaimsDecorators) Decorate(ctx context.Context, payload TokenPayload, claims *TokenClaims) error {
	for _, decorator := range d {
		if decorator == nil {
			continue
		}
		if err := decorator.Decorate(ctx, payload, claims); err != nil {
			return err
		}
	}
	return nil
}

// StaticMetadata adds fixed metadata keys to every token. Keys already
// present in the payload metadata win.
func StaticMetadata(values map[string]any) ClaimsDecorator {
	values = maps.Clone(values)
	return ClaimsDecoratorFunc(func(_ context.Context, _ TokenPayload, claims *TokenClaims) error {
		if len(values) == 0 {
			return nil
		}
		claims.Metadata = maps.Clone(claims.Metadata)
		if claims.Metadata == nil {
			claims.Metadata = make(map[string]any, len(values))
		}
		for k, v := range values {
			if _, ok := claims.Metadata[k]; !ok {
				claims.Metadata[k] = v
			}
		}
		return nil
	})
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(context.Context, TokenPayload, *TokenClaims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}
