package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/redis/go-redis/v9"
)

// RevocationStore keeps revocation entries in redis. Entries expire with
// their retention so the registry never needs a purge job.
type RevocationStore struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.RevocationStore = (*RevocationStore)(nil)

type revocationValue struct {
	RevokedAt   int64  `json:"revoked_at"`
	RetainUntil int64  `json:"retain_until"`
	Reason      string `json:"reason,omitempty"`
}

func NewRevocationStore(client redis.UniversalClient, opts ...Option) *RevocationStore {
	o := resolveOptions(opts)
	return &RevocationStore{client: client, prefix: o.prefix}
}

func (s *RevocationStore) key(scope auth.RevocationScope, key string) string {
	return s.prefix + ":revoked:" + string(scope) + ":" + key
}

// advanceScript replaces the stored entry only when the new one was revoked
// later. ARGV: encoded entry, revoked_at in unix nanoseconds, ttl in ms.
var advanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local stored = cjson.decode(current)
	if tonumber(stored.revoked_at) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Put writes entry only when no entry exists for its scope and key. User
// scope entries keep the latest revocation instant.
func (s *RevocationStore) Put(ctx context.Context, entry auth.RevocationEntry) error {
	raw, err := json.Marshal(revocationValue{
		RevokedAt:   entry.RevokedAt.UnixNano(),
		RetainUntil: entry.RetainUntil.UnixNano(),
		Reason:      entry.Reason,
	})
	if err != nil {
		return err
	}

	ttl := entry.RetainUntil.Sub(entry.RevokedAt)
	if ttl <= 0 {
		ttl = time.Hour
	}
	key := s.key(entry.Scope, entry.Key)
	if entry.Scope == auth.ScopeUser {
		return advanceScript.Run(ctx, s.client, []string{key},
			string(raw), strconv.FormatInt(entry.RevokedAt.UnixNano(), 10), ttl.Milliseconds(),
		).Err()
	}
	return s.client.SetNX(ctx, key, raw, ttl).Err()
}

func (s *RevocationStore) Get(ctx context.Context, scope auth.RevocationScope, key string) (auth.RevocationEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(scope, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.RevocationEntry{}, false, nil
		}
		return auth.RevocationEntry{}, false, err
	}

	var value revocationValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return auth.RevocationEntry{}, false, err
	}

	return auth.RevocationEntry{
		Scope:       scope,
		Key:         key,
		RevokedAt:   time.Unix(0, value.RevokedAt).UTC(),
		RetainUntil: time.Unix(0, value.RetainUntil).UTC(),
		Reason:      value.Reason,
	}, true, nil
}
