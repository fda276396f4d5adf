package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound means the token id is absent: expired, revoked or
	// never recorded. Distinct from the store being unreachable.
	ErrTokenNotFound = errors.New("token not found")

	// ErrStoreUnavailable means the backing store could not answer.
	// Callers validating a refresh token must treat this as "not valid".
	ErrStoreUnavailable = errors.New("token store unavailable")
)

const (
	entryKeyPrefix = "refresh:"
	indexKeyPrefix = "user_tokens:"

	opTimeout = 3 * time.Second
)

// RedisStore tracks which refresh token ids are currently valid.
//
// Two structures per user: a TTL-keyed entry refresh:<tokenID> holding
// the owner id, and an index set user_tokens:<userID> of live token ids
// used for bulk revocation. Writes go through MULTI/EXEC so both land
// together; reads only ever trust the primary entry, so an index member
// without an entry is harmless and dies with the index TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func entryKey(tokenID string) string { return entryKeyPrefix + tokenID }

func indexKey(userID int64) string {
	return indexKeyPrefix + strconv.FormatInt(userID, 10)
}

// Record inserts tokenID -> userID with the refresh TTL and adds the
// token id to the owner's index set, refreshing the index TTL to match.
func (s *RedisStore) Record(ctx context.Context, tokenID string, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(tokenID), userID, s.ttl)
	pipe.SAdd(ctx, indexKey(userID), tokenID)
	pipe.Expire(ctx, indexKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Owner returns the user id a live token id belongs to.
func (s *RedisStore) Owner(ctx context.Context, tokenID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, entryKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt entry for token %s", ErrStoreUnavailable, tokenID)
	}
	return userID, nil
}

// Revoke deletes a single entry and removes the token id from its
// owner's index set. Revoking an absent token is a no-op.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, entryKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	owner, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Entry is unreadable; still delete it.
		if delErr := s.client.Del(ctx, entryKey(tokenID)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, delErr)
		}
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(tokenID))
	pipe.SRem(ctx, indexKey(owner), tokenID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every live token entry of the user, then the index
// set itself.
func (s *RedisStore) RevokeAll(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tokenIDs, err := s.client.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	for _, tokenID := range tokenIDs {
		pipe.Del(ctx, entryKey(tokenID))
	}
	pipe.Del(ctx, indexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
