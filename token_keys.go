package auth

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const (
	SigningMethodHS256 = "HS256"
	SigningMethodRS256 = "RS256"
)

// SigningKey is one entry of a token class key ring. Retired keys only need
// the verification half.
type SigningKey struct {
	ID     string
	Method jwt.SigningMethod
	Sign   any
	Verify any
}

// CanSign reports whether the key carries private material
func (k SigningKey) CanSign() bool {
	return k.Method != nil && k.Sign != nil
}

// NewHMACKey builds a symmetric key. An empty id derives one from the secret.
func NewHMACKey(id string, secret []byte) (SigningKey, error) {
	if len(secret) == 0 {
		return SigningKey{}, goerrors.New("hmac signing key must not be empty", goerrors.CategoryBadInput)
	}
	key := append([]byte(nil), secret...)
	if id == "" {
		id = deriveKeyID(key)
	}
	return SigningKey{
		ID:     id,
		Method: jwt.SigningMethodHS256,
		Sign:   key,
		Verify: key,
	}, nil
}

// NewRSAKeyFromPEM builds an asymmetric key from a PEM encoded private key
func NewRSAKeyFromPEM(id string, pemBytes []byte) (SigningKey, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return SigningKey{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse RSA private key")
	}
	if id == "" {
		id = deriveKeyID(priv.PublicKey.N.Bytes())
	}
	return SigningKey{
		ID:     id,
		Method: jwt.SigningMethodRS256,
		Sign:   priv,
		Verify: &priv.PublicKey,
	}, nil
}

// NewRSAVerifyKeyFromPEM builds a verification only key from a PEM public key
func NewRSAVerifyKeyFromPEM(id string, pemBytes []byte) (SigningKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return SigningKey{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse RSA public key")
	}
	if id == "" {
		id = deriveKeyID(pub.N.Bytes())
	}
	return SigningKey{
		ID:     id,
		Method: jwt.SigningMethodRS256,
		Verify: pub,
	}, nil
}

// SigningKeyFromString picks the key type from method. Keys for RS256 are PEM text.
func SigningKeyFromString(id, method, material string) (SigningKey, error) {
	switch strings.ToUpper(method) {
	case "", SigningMethodHS256:
		return NewHMACKey(id, []byte(material))
	case SigningMethodRS256:
		return NewRSAKeyFromPEM(id, []byte(material))
	default:
		return SigningKey{}, goerrors.New("unsupported signing method: "+method, goerrors.CategoryBadInput)
	}
}

func deriveKeyID(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:6])
}

func sameKeyMaterial(a, b SigningKey) bool {
	switch av := a.Verify.(type) {
	case []byte:
		bv, ok := b.Verify.([]byte)
		return ok && bytes.Equal(av, bv)
	case *rsa.PublicKey:
		bv, ok := b.Verify.(*rsa.PublicKey)
		return ok && av.Equal(bv)
	}
	return false
}

// keyRing holds the active signing key and every key accepted for verification
type keyRing struct {
	class   TokenClass
	active  SigningKey
	methods []string
	keyfunc jwt.Keyfunc
}

func newKeyRing(class TokenClass, active SigningKey, retired ...SigningKey) (*keyRing, error) {
	if !active.CanSign() {
		return nil, goerrors.New("active "+string(class)+" key must be able to sign", goerrors.CategoryBadInput)
	}

	given := make(map[string]keyfunc.GivenKey, len(retired)+1)
	methods := []string{}
	for _, k := range append([]SigningKey{active}, retired...) {
		if k.Method == nil || k.Verify == nil {
			continue
		}
		if _, exists := given[k.ID]; exists {
			continue
		}
		alg := k.Method.Alg()
		given[k.ID] = keyfunc.NewGivenCustom(k.Verify, keyfunc.GivenKeyOptions{
			Algorithm: alg,
		})
		if !slices.Contains(methods, alg) {
			methods = append(methods, alg)
		}
	}

	return &keyRing{
		class:   class,
		active:  active,
		methods: methods,
		keyfunc: keyfunc.NewGiven(given).Keyfunc,
	}, nil
}
