package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tokens:
  signing_method: hs256
  access_key: file-access
  refresh_key: file-refresh
  access_ttl: 10m
  refresh_ttl: 48h
  issuer: north-high
  audience: [school-api, grades-api]
  clock_skew: 5s
  rotate_refresh: true
lockout:
  threshold: 3
  window: 5m
cache:
  ttl: 20s
  size: 64
stores:
  redis_url: redis://localhost:6379/2
audit:
  kafka_brokers: [localhost:9092]
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenant-auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	s, err := config.Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, auth.SigningMethodHS256, s.GetSigningMethod())
	assert.Equal(t, "file-access", s.GetAccessSigningKey())
	assert.Equal(t, "file-refresh", s.GetRefreshSigningKey())
	assert.Equal(t, 10*time.Minute, s.GetAccessTokenTTL())
	assert.Equal(t, 48*time.Hour, s.GetRefreshTokenTTL())
	assert.Equal(t, "north-high", s.GetIssuer())
	assert.Equal(t, []string{"school-api", "grades-api"}, s.GetAudience())
	assert.Equal(t, 5*time.Second, s.GetClockSkew())
	assert.True(t, s.GetRotateRefreshTokens())
	assert.Equal(t, 3, s.GetLoginAttemptThreshold())
	assert.Equal(t, 5*time.Minute, s.GetLoginAttemptWindow())
	assert.Equal(t, 20*time.Second, s.GetCacheTTL())
	assert.Equal(t, 64, s.GetCacheSize())
	assert.Equal(t, "redis://localhost:6379/2", s.Stores.RedisURL)
	assert.Equal(t, []string{"localhost:9092"}, s.Audit.KafkaBrokers)

	// unset keys keep their defaults
	assert.Equal(t, "tenant-auth", s.Stores.RedisPrefix)
	assert.Equal(t, "tenant-auth.audit", s.Audit.KafkaTopic)
	assert.Equal(t, 12, s.GetBcryptCost())
	assert.Zero(t, s.GetIdentityStaleness())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("TENANT_AUTH_ACCESS_SIGNING_KEY", "env-access")
	t.Setenv("TENANT_AUTH_LOGIN_ATTEMPT_THRESHOLD", "7")
	t.Setenv("TENANT_AUTH_AUDIENCE", "a,b,c")
	t.Setenv("TENANT_AUTH_IDENTITY_STALENESS", "2m")

	s, err := config.Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-access", s.GetAccessSigningKey())
	assert.Equal(t, "file-refresh", s.GetRefreshSigningKey())
	assert.Equal(t, 7, s.GetLoginAttemptThreshold())
	assert.Equal(t, []string{"a", "b", "c"}, s.GetAudience())
	assert.Equal(t, 2*time.Minute, s.GetIdentityStaleness())
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TENANT_AUTH_ACCESS_SIGNING_KEY", "a")
	t.Setenv("TENANT_AUTH_REFRESH_SIGNING_KEY", "r")

	s, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, s.GetAccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, s.GetRefreshTokenTTL())
	assert.Equal(t, 5, s.GetLoginAttemptThreshold())
	assert.Equal(t, 15*time.Minute, s.GetLoginAttemptWindow())
	assert.False(t, s.Federation.Enabled())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		errText string
	}{
		{
			name:    "malformed yaml",
			content: "tokens: [",
			errText: "parse config file",
		},
		{
			name:    "bad duration in env",
			content: sampleYAML,
			env:     map[string]string{"TENANT_AUTH_ACCESS_TOKEN_TTL": "soon"},
			errText: "parse env",
		},
		{
			name:    "missing keys",
			content: "tokens:\n  issuer: x\n",
			errText: "tokens",
		},
		{
			name:    "shared key material",
			content: "tokens:\n  access_key: same\n  refresh_key: same\n",
			errText: "must differ from access key",
		},
		{
			name:    "unknown signing method",
			content: sampleYAML,
			env:     map[string]string{"TENANT_AUTH_SIGNING_METHOD": "ES512"},
			errText: "tokens",
		},
		{
			name:    "zero threshold",
			content: sampleYAML,
			env:     map[string]string{"TENANT_AUTH_LOGIN_ATTEMPT_THRESHOLD": "0"},
			errText: "lockout",
		},
		{
			name:    "cache ttl above a minute",
			content: sampleYAML,
			env:     map[string]string{"TENANT_AUTH_CACHE_TTL": "5m"},
			errText: "cache",
		},
		{
			name:    "federation without issuer",
			content: sampleYAML,
			env: map[string]string{
				"TENANT_AUTH_FEDERATION_PROVIDER": "google",
				"TENANT_AUTH_FEDERATION_JWKS_URL": "https://idp.example.com/jwks",
			},
			errText: "federation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestSettings_JWKSConfig(t *testing.T) {
	t.Setenv("TENANT_AUTH_FEDERATION_PROVIDER", "google")
	t.Setenv("TENANT_AUTH_FEDERATION_JWKS_URL", "https://idp.example.com/jwks")
	t.Setenv("TENANT_AUTH_FEDERATION_ISSUER", "https://idp.example.com")
	t.Setenv("TENANT_AUTH_FEDERATION_AUDIENCE", "tenant-auth")

	s, err := config.Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	require.True(t, s.Federation.Enabled())

	cfg := s.JWKSConfig()
	assert.Equal(t, "google", cfg.Provider)
	assert.Equal(t, "https://idp.example.com/jwks", cfg.JWKSetURL)
	assert.Equal(t, "email", cfg.IdentifierClaim)
	assert.Equal(t, "tenant_id", cfg.TenantClaim)
	assert.Equal(t, 5*time.Second, cfg.Leeway)
}

func TestSettings_BuildsTokenCodec(t *testing.T) {
	s, err := config.Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	codec, err := auth.NewTokenCodecFromConfig(s)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour+5*time.Second, codec.MaxTTL())
}
