package memory

import (
	"context"
	"sync"
	"time"

	"nichenerd-service/internal/domain"
)

// TranscriptStore keeps per-attempt chat transcripts in memory with a TTL so
// abandoned attempts age out.
type TranscriptStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]transcriptEntry
}

type transcriptEntry struct {
	messages  []domain.ChatMessage
	expiresAt time.Time
}

func NewTranscriptStore(ttl time.Duration) *TranscriptStore {
	return &TranscriptStore{
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]transcriptEntry),
	}
}

// NewTranscriptStoreWithClock allows deterministic expiry in tests.
func NewTranscriptStoreWithClock(ttl time.Duration, clock func() time.Time) *TranscriptStore {
	s := NewTranscriptStore(ttl)
	s.clock = clock
	return s
}

func (s *TranscriptStore) Save(_ context.Context, sessionID string, messages []domain.ChatMessage) error {
	copied := make([]domain.ChatMessage, len(messages))
	copy(copied, messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = transcriptEntry{
		messages:  copied,
		expiresAt: s.clock().Add(s.ttl),
	}
	return nil
}

func (s *TranscriptStore) Load(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok || entry.expiresAt.Before(s.clock()) {
		return nil, nil
	}
	copied := make([]domain.ChatMessage, len(entry.messages))
	copy(copied, entry.messages)
	return copied, nil
}

func (s *TranscriptStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}
