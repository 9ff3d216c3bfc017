package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/goliatone/go-tenant-auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestConnect(t *testing.T) {
	mr, _ := setupRedis(t)
	ctx := context.Background()

	client, err := Connect(ctx, mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	client, err = Connect(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = Connect(ctx, "redis://:bad url")
	assert.Error(t, err)
}

func TestRevocationStore(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRevocationStore(client, WithPrefix("test"))
	ctx := context.Background()

	entry := auth.RevocationEntry{
		Scope:       auth.ScopeSession,
		Key:         "session-1",
		RevokedAt:   testEpoch,
		RetainUntil: testEpoch.Add(time.Hour),
		Reason:      "logout",
	}

	_, found, err := store.Get(ctx, auth.ScopeSession, "session-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, entry))

	again := entry
	again.RevokedAt = testEpoch.Add(time.Minute)
	again.Reason = "second"
	require.NoError(t, store.Put(ctx, again))

	got, found, err := store.Get(ctx, auth.ScopeSession, "session-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.RevokedAt.Equal(testEpoch))
	assert.True(t, got.RetainUntil.Equal(entry.RetainUntil))
	assert.Equal(t, "logout", got.Reason)
	assert.Equal(t, auth.ScopeSession, got.Scope)

	assert.True(t, mr.Exists("test:revoked:session:session-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:revoked:session:session-1"))

	_, found, err = store.Get(ctx, auth.ScopeToken, "session-1")
	require.NoError(t, err)
	assert.False(t, found)

	mr.FastForward(time.Hour + time.Second)
	_, found, err = store.Get(ctx, auth.ScopeSession, "session-1")
	require.NoError(t, err)
	assert.False(t, found, "entry expires with its retention")
}

func TestRevocationStoreUserScopeKeepsLatest(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRevocationStore(client, WithPrefix("test"))
	ctx := context.Background()

	first := auth.RevocationEntry{
		Scope:       auth.ScopeUser,
		Key:         "tenant/subject",
		RevokedAt:   testEpoch,
		RetainUntil: testEpoch.Add(time.Hour),
		Reason:      "suspended",
	}
	require.NoError(t, store.Put(ctx, first))

	later := first
	later.RevokedAt = testEpoch.Add(3 * time.Minute)
	later.RetainUntil = later.RevokedAt.Add(time.Hour)
	later.Reason = "suspended again"
	require.NoError(t, store.Put(ctx, later))

	require.NoError(t, store.Put(ctx, first), "an older revocation never moves the entry back")

	got, found, err := store.Get(ctx, auth.ScopeUser, "tenant/subject")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.RevokedAt.Equal(later.RevokedAt))
	assert.True(t, got.RetainUntil.Equal(later.RetainUntil))
	assert.Equal(t, "suspended again", got.Reason)
	assert.Equal(t, time.Hour, mr.TTL("test:revoked:user:tenant/subject"))
}

func TestRevocationStoreBacksRegistry(t *testing.T) {
	_, client := setupRedis(t)
	now := testEpoch
	registry := auth.NewRevocationRegistry(NewRevocationStore(client), time.Hour,
		auth.WithRevocationClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	require.NoError(t, registry.Revoke(ctx, auth.ScopeUser, auth.UserRevocationKey("tenant", "subject"), "suspended"))

	at, found, err := registry.RevokedAt(ctx, auth.ScopeUser, auth.UserRevocationKey("tenant", "subject"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, at.Equal(testEpoch))
}

func TestRevocationStoreUnavailable(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRevocationStore(client)
	mr.Close()

	_, _, err := store.Get(context.Background(), auth.ScopeToken, "jti")
	assert.Error(t, err)
}

func TestAttemptStore(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewAttemptStore(client)
	ctx := context.Background()
	window := 15 * time.Minute
	key := "tenant/school-x/teacher@school.test"

	counter, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.Count)
	assert.True(t, counter.WindowStart.IsZero())

	for i := 1; i <= 3; i++ {
		counter, err = store.Increment(ctx, key, testEpoch.Add(time.Duration(i)*time.Minute), window)
		require.NoError(t, err)
		assert.Equal(t, i, counter.Count)
	}
	assert.True(t, counter.WindowStart.Equal(testEpoch.Add(time.Minute)))
	assert.Equal(t, window, mr.TTL(DefaultPrefix+":attempts:"+key))

	t.Run("elapsed window starts over", func(t *testing.T) {
		later := testEpoch.Add(time.Minute + window)
		counter, err := store.Increment(ctx, key, later, window)
		require.NoError(t, err)
		assert.Equal(t, 1, counter.Count)
		assert.True(t, counter.WindowStart.Equal(later))
	})

	t.Run("reset clears the counter", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx, key))
		counter, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, counter.Count)
	})

	t.Run("concurrent increments are all counted", func(t *testing.T) {
		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Increment(ctx, "concurrent", testEpoch, window)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		counter, err := store.Get(ctx, "concurrent")
		require.NoError(t, err)
		assert.Equal(t, workers, counter.Count)
	})
}

func TestAttemptStoreBacksLockout(t *testing.T) {
	_, client := setupRedis(t)
	now := testEpoch
	policy := auth.NewLoginAttemptPolicy(NewAttemptStore(client), 3, 15*time.Minute,
		auth.WithAttemptClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	key := auth.AttemptKey(auth.TenantScope{TenantID: "tenant", SchoolID: "school-x"}, "Teacher@School.test")

	var locked bool
	for i := 0; i < 3; i++ {
		var err error
		_, locked, err = policy.RecordFailure(ctx, key)
		require.NoError(t, err)
	}
	assert.True(t, locked)

	now = now.Add(15 * time.Minute)
	locked, err := policy.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, locked)
}
