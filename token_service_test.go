package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() auth.TokenPayload {
	return auth.TokenPayload{
		SubjectID:   uuid.NewString(),
		TenantID:    uuid.NewString(),
		SchoolID:    testSchool,
		Roles:       []auth.Role{auth.RoleTeacher},
		Permissions: []auth.Permission{"grades:write"},
	}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)
	payload := testPayload()

	for _, class := range []auth.TokenClass{auth.ClassAccess, auth.ClassRefresh} {
		t.Run(string(class), func(t *testing.T) {
			raw, issued, err := codec.Issue(context.Background(), payload, class)
			require.NoError(t, err)
			assert.NotEmpty(t, issued.JTI)
			assert.NotEmpty(t, issued.SessionID)
			assert.Equal(t, clock.Now(), issued.IssuedAt.UTC())
			assert.Equal(t, clock.Now().Add(codec.TTL(class)), issued.ExpiresAt.UTC())

			verified, err := codec.Verify(raw, class)
			require.NoError(t, err)
			assert.Equal(t, payload.SubjectID, verified.SubjectID)
			assert.Equal(t, payload.TenantID, verified.TenantID)
			assert.Equal(t, payload.SchoolID, verified.SchoolID)
			assert.Equal(t, payload.Roles, verified.Roles)
			assert.Equal(t, payload.Permissions, verified.Permissions)
			assert.Equal(t, class, verified.Class)
			assert.Equal(t, issued.JTI, verified.JTI)
			assert.Equal(t, issued.SessionID, verified.SessionID)
		})
	}
}

func TestTokenCodecIssuesUniqueJTI(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)
	payload := testPayload()

	seen := map[string]struct{}{}
	for range 20 {
		_, issued, err := codec.Issue(context.Background(), payload, auth.ClassAccess)
		require.NoError(t, err)
		_, dup := seen[issued.JTI]
		require.False(t, dup, "jti reused")
		seen[issued.JTI] = struct{}{}
	}
}

func TestTokenCodecExpiryBoundary(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = codec.Verify(raw, auth.ClassAccess)
	require.NoError(t, err, "one second before expiry must verify")

	clock.Advance(2 * time.Second)
	_, err = codec.Verify(raw, auth.ClassAccess)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenCodecLeewayToleratesSkew(t *testing.T) {
	clock := newTestClock()
	accessKey, err := auth.NewHMACKey("", []byte("access-secret"))
	require.NoError(t, err)
	refreshKey, err := auth.NewHMACKey("", []byte("refresh-secret"))
	require.NoError(t, err)

	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  accessKey,
		RefreshKey: refreshKey,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Leeway:     30 * time.Second,
	}, auth.WithCodecClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, time.Hour+30*time.Second, codec.MaxTTL())

	raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	clock.Advance(time.Minute + 10*time.Second)
	_, err = codec.Verify(raw, auth.ClassAccess)
	assert.NoError(t, err)
}

func TestTokenCodecRejectsWrongClass(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	pair, err := codec.IssuePair(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, pair.Access.SessionID, pair.Refresh.SessionID)
	assert.NotEqual(t, pair.Access.JTI, pair.Refresh.JTI)

	_, err = codec.Verify(pair.RefreshToken, auth.ClassAccess)
	assert.ErrorIs(t, err, auth.ErrWrongClass)

	_, err = codec.Verify(pair.AccessToken, auth.ClassRefresh)
	assert.ErrorIs(t, err, auth.ErrWrongClass)
	assert.True(t, auth.IsTokenError(err))
}

func TestTokenCodecRejectsTamperedSignature(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = codec.Verify(tampered, auth.ClassAccess)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestTokenCodecChecksSignatureBeforeClass(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	claims, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	edited := strings.Replace(string(claims), `"cls":"access"`, `"cls":"refresh"`, 1)
	require.NotEqual(t, string(claims), edited)
	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(edited)) + "." + parts[2]

	for _, class := range []auth.TokenClass{auth.ClassAccess, auth.ClassRefresh} {
		_, err = codec.Verify(forged, class)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature, "class %s", class)
	}
}

func TestTokenCodecRejectsForeignKey(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	otherAccess, err := auth.NewHMACKey("access-1", []byte("someone-else"))
	require.NoError(t, err)
	otherRefresh, err := auth.NewHMACKey("refresh-1", []byte("someone-else-refresh"))
	require.NoError(t, err)
	other, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  otherAccess,
		RefreshKey: otherRefresh,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Issuer:     "tenant-auth-test",
		Audience:   []string{"school-api"},
	}, auth.WithCodecClock(clock.Now))
	require.NoError(t, err)

	raw, _, err := other.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	_, err = codec.Verify(raw, auth.ClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestTokenCodecRejectsMalformed(t *testing.T) {
	clock := newTestClock()
	codec := newTestCodec(t, clock.Now)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not-a-token"},
		{name: "two segments", raw: "abc.def"},
		{name: "bad base64", raw: "%%%.###.$$$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.raw, auth.ClassAccess)
			require.Error(t, err)
			assert.ErrorIs(t, err, auth.ErrTokenMalformed)
			assert.True(t, auth.IsMalformedError(err))
		})
	}
}

func TestTokenCodecRequiresDistinctKeys(t *testing.T) {
	key, err := auth.NewHMACKey("", []byte("shared"))
	require.NoError(t, err)
	sameMaterial, err := auth.NewHMACKey("other-id", []byte("shared"))
	require.NoError(t, err)

	_, err = auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  key,
		RefreshKey: sameMaterial,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	assert.Error(t, err)

	_, err = auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  key,
		RefreshKey: key,
		AccessTTL:  0,
		RefreshTTL: time.Hour,
	})
	assert.Error(t, err)
}

func TestTokenCodecRequiresScope(t *testing.T) {
	codec := newTestCodec(t, newTestClock().Now)

	payload := testPayload()
	payload.SchoolID = ""
	_, _, err := codec.Issue(context.Background(), payload, auth.ClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidRequest)
}

func TestTokenCodecAcceptsRetiredKeys(t *testing.T) {
	clock := newTestClock()
	old := newTestCodec(t, clock.Now)

	raw, _, err := old.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)

	retiredAccess, err := auth.NewHMACKey("access-1", []byte("access-secret"))
	require.NoError(t, err)
	nextAccess, err := auth.NewHMACKey("access-2", []byte("access-secret-2"))
	require.NoError(t, err)
	refreshKey, err := auth.NewHMACKey("refresh-1", []byte("refresh-secret"))
	require.NoError(t, err)

	cfg := auth.TokenCodecConfig{
		AccessKey:  nextAccess,
		RefreshKey: refreshKey,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
		Issuer:     "tenant-auth-test",
		Audience:   []string{"school-api"},
	}

	rotated, err := auth.NewTokenCodec(cfg,
		auth.WithCodecClock(clock.Now),
		auth.WithRetiredKeys(auth.ClassAccess, retiredAccess),
	)
	require.NoError(t, err)

	_, err = rotated.Verify(raw, auth.ClassAccess)
	assert.NoError(t, err, "retired key still verifies")

	fresh, _, err := rotated.Issue(context.Background(), testPayload(), auth.ClassAccess)
	require.NoError(t, err)
	_, err = old.Verify(fresh, auth.ClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature, "new kid is unknown to the old ring")

	withoutRetired, err := auth.NewTokenCodec(cfg, auth.WithCodecClock(clock.Now))
	require.NoError(t, err)
	_, err = withoutRetired.Verify(raw, auth.ClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestTokenCodecRS256(t *testing.T) {
	clock := newTestClock()

	accessKey, err := auth.NewRSAKeyFromPEM("rsa-access", generateRSAPEM(t))
	require.NoError(t, err)
	refreshKey, err := auth.NewRSAKeyFromPEM("rsa-refresh", generateRSAPEM(t))
	require.NoError(t, err)

	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		AccessKey:  accessKey,
		RefreshKey: refreshKey,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, auth.WithCodecClock(clock.Now))
	require.NoError(t, err)

	pair, err := codec.IssuePair(context.Background(), testPayload())
	require.NoError(t, err)

	_, err = codec.Verify(pair.AccessToken, auth.ClassAccess)
	assert.NoError(t, err)
	_, err = codec.Verify(pair.RefreshToken, auth.ClassRefresh)
	assert.NoError(t, err)
}

func TestTokenCodecClaimsDecorator(t *testing.T) {
	clock := newTestClock()

	t.Run("metadata is carried", func(t *testing.T) {
		codec := newTestCodec(t, clock.Now, auth.WithClaimsDecorator(auth.ClaimsDecoratorFunc(
			func(_ context.Context, _ auth.TokenPayload, claims *auth.TokenClaims) error {
				claims.Metadata = map[string]any{"locale": "en"}
				return nil
			},
		)))

		raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
		require.NoError(t, err)

		verified, err := codec.Verify(raw, auth.ClassAccess)
		require.NoError(t, err)
		assert.Equal(t, "en", verified.Metadata["locale"])
	})

	t.Run("chained decorators", func(t *testing.T) {
		codec := newTestCodec(t, clock.Now, auth.WithClaimsDecorator(auth.ClaimsDecorators{
			auth.StaticMetadata(map[string]any{"plan": "basic", "locale": "fr"}),
			nil,
			auth.ClaimsDecoratorFunc(func(_ context.Context, p auth.TokenPayload, claims *auth.TokenClaims) error {
				claims.Metadata["school"] = p.SchoolID
				return nil
			}),
		}))

		payload := testPayload()
		payload.Metadata = map[string]any{"locale": "en"}

		raw, _, err := codec.Issue(context.Background(), payload, auth.ClassAccess)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"locale": "en"}, payload.Metadata)

		verified, err := codec.Verify(raw, auth.ClassAccess)
		require.NoError(t, err)
		assert.Equal(t, "en", verified.Metadata["locale"])
		assert.Equal(t, "basic", verified.Metadata["plan"])
		assert.Equal(t, payload.SchoolID, verified.Metadata["school"])
	})

	t.Run("decorator errors stop issuance", func(t *testing.T) {
		codec := newTestCodec(t, clock.Now, auth.WithClaimsDecorator(auth.ClaimsDecorators{
			auth.ClaimsDecoratorFunc(func(context.Context, auth.TokenPayload, *auth.TokenClaims) error {
				return errStoreDown
			}),
		}))

		_, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
		assert.ErrorIs(t, err, errStoreDown)
	})

	t.Run("protected claims cannot change", func(t *testing.T) {
		codec := newTestCodec(t, clock.Now, auth.WithClaimsDecorator(auth.ClaimsDecoratorFunc(
			func(_ context.Context, _ auth.TokenPayload, claims *auth.TokenClaims) error {
				claims.TenantID = uuid.NewString()
				return nil
			},
		)))

		_, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassAccess)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrImmutableClaimMutation)
	})
}

func TestNewTokenCodecFromConfig(t *testing.T) {
	clock := newTestClock()
	codec, err := auth.NewTokenCodecFromConfig(testConfig{}, auth.WithCodecClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, codec.TTL(auth.ClassAccess))
	assert.Equal(t, 7*24*time.Hour, codec.TTL(auth.ClassRefresh))

	raw, _, err := codec.Issue(context.Background(), testPayload(), auth.ClassRefresh)
	require.NoError(t, err)
	_, err = codec.Verify(raw, auth.ClassRefresh)
	assert.NoError(t, err)
}

func generateRSAPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}
