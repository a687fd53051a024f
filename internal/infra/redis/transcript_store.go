package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"nichenerd-service/internal/domain"
)

// TranscriptStore keeps the per-attempt chat transcript in Redis as a JSON
// blob with a jittered TTL, so a client reconnecting within the same browser
// session can resume its quiz view.
type TranscriptStore struct {
	client *redis.Client
	ttl    time.Duration
	rnd    *rand.Rand
}

func NewTranscriptStore(client *redis.Client, ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *TranscriptStore) Save(ctx context.Context, sessionID string, messages []domain.ChatMessage) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return errors.Wrap(err, "encode transcript")
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttlWithJitter()).Err(); err != nil {
		return errors.Wrap(err, "redis set transcript")
	}
	return nil
}

func (s *TranscriptStore) Load(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get transcript")
	}
	var messages []domain.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, errors.Wrap(err, "decode transcript")
	}
	return messages, nil
}

func (s *TranscriptStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "redis del transcript")
	}
	return nil
}

func (s *TranscriptStore) key(sessionID string) string {
	return "nichenerd:transcript:" + sessionID
}

// ttlWithJitter spreads expirations so concurrent attempts don't expire in
// lockstep.
func (s *TranscriptStore) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}
