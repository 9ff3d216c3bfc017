package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used by HashSecret when no cost is given
const DefaultBcryptCost = 12

// dummyHash is compared against when the identity is unknown so that the
// miss path spends the same time as a wrong secret.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("tenant-auth-dummy-secret"), dummyHashCost())
	if err != nil {
		return nil
	}
	return h
})

// CredentialVerifier compares presented secrets against one way salted hashes
type CredentialVerifier interface {
	Verify(presented, storedHash string) bool
}

// BcryptVerifier implements CredentialVerifier with bcrypt. bcrypt compares
// in constant time with respect to the presented value.
type BcryptVerifier struct{}

// Verify never fails loudly, any error is a mismatch
func (BcryptVerifier) Verify(presented, storedHash string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if presented == "" {
		return false
	}

	hash := []byte(storedHash)
	if storedHash == "" {
		hash = dummyHash()
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(presented))
	return err == nil && storedHash != ""
}

// HashSecret will generate a secret hash
func HashSecret(secret string, cost ...int) (string, error) {
	if secret == "" {
		return "", withDetail(ErrInvalidRequest, nil, map[string]any{"reason": "secret must not be empty"})
	}

	c := DefaultBcryptCost
	if len(cost) > 0 && cost[0] >= bcrypt.MinCost && cost[0] <= bcrypt.MaxCost {
		c = cost[0]
	}

	h, err := bcrypt.GenerateFromPassword([]byte(secret), c)
	return string(h), err
}
