package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// IdentityStore persists browser-session user ids in Redis. The TTL bounds
// the token to roughly one browser session; quiz restarts inside that window
// keep reading the same token.
type IdentityStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdentityStore(client *redis.Client, ttl time.Duration) *IdentityStore {
	return &IdentityStore{client: client, ttl: ttl}
}

func (s *IdentityStore) GetUserID(ctx context.Context, clientKey string) (string, error) {
	val, err := s.client.Get(ctx, s.key(clientKey)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "redis get user id")
	}
	// Sliding expiry: activity inside the session keeps the token alive.
	_ = s.client.Expire(ctx, s.key(clientKey), s.ttl).Err()
	return val, nil
}

func (s *IdentityStore) PutUserID(ctx context.Context, clientKey, userID string) error {
	if err := s.client.Set(ctx, s.key(clientKey), userID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set user id")
	}
	return nil
}

func (s *IdentityStore) key(clientKey string) string {
	return "nichenerd:user:" + clientKey
}
