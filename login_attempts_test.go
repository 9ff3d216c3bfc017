package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptKeyIsScoped(t *testing.T) {
	a := auth.TenantScope{TenantID: uuid.NewString(), SchoolID: testSchool}
	b := auth.TenantScope{TenantID: uuid.NewString(), SchoolID: testSchool}

	assert.Equal(t, auth.AttemptKey(a, " Teacher@School.test "), auth.AttemptKey(a, "teacher@school.test"))
	assert.NotEqual(t, auth.AttemptKey(a, testIdentifier), auth.AttemptKey(b, testIdentifier))
}

func TestLoginAttemptPolicyLocksAtThreshold(t *testing.T) {
	clock := newTestClock()
	policy := auth.NewLoginAttemptPolicy(auth.NewMemoryAttemptStore(), 5, 15*time.Minute,
		auth.WithAttemptClock(clock.Now),
		auth.WithAttemptLogger(quietLogger()),
	)
	ctx := context.Background()
	key := "tenant/school/user"

	for i := 1; i <= 4; i++ {
		counter, locked, err := policy.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, i, counter.Count)
		assert.False(t, locked)
	}

	_, locked, err := policy.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.True(t, locked)

	isLocked, err := policy.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, isLocked)

	clock.Advance(15 * time.Minute)
	isLocked, err = policy.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, isLocked, "window expiry clears the lock")

	counter, locked, err := policy.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Count, "a new window starts over")
	assert.False(t, locked)
}

func TestLoginAttemptPolicySuccessResets(t *testing.T) {
	clock := newTestClock()
	policy := auth.NewLoginAttemptPolicy(auth.NewMemoryAttemptStore(), 3, time.Hour,
		auth.WithAttemptClock(clock.Now),
		auth.WithAttemptLogger(quietLogger()),
	)
	ctx := context.Background()

	for range 3 {
		_, _, err := policy.RecordFailure(ctx, "k")
		require.NoError(t, err)
	}
	locked, err := policy.IsLocked(ctx, "k")
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, policy.Unlock(ctx, "k"))
	locked, err = policy.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLoginAttemptPolicyDisabled(t *testing.T) {
	policy := auth.NewLoginAttemptPolicy(auth.NewMemoryAttemptStore(), 0, time.Hour)
	ctx := context.Background()

	for range 10 {
		_, locked, err := policy.RecordFailure(ctx, "k")
		require.NoError(t, err)
		assert.False(t, locked)
	}
}

func TestMemoryAttemptStoreConcurrentIncrement(t *testing.T) {
	store := auth.NewMemoryAttemptStore()
	ctx := context.Background()
	now := testEpoch

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, "k", now, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counter, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 50, counter.Count)
	assert.Equal(t, now, counter.WindowStart)
}
