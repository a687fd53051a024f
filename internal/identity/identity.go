// Package identity manages the two opaque tokens a quiz attempt is keyed by:
// a user id that is stable for the lifetime of one browser session, and a
// session id minted fresh for every quiz attempt. Both are random and carry
// no meaning beyond uniqueness.
package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Store is the browser-session-scoped token store. GetUserID returns ""
// without error when no token has been persisted for the key yet.
type Store interface {
	GetUserID(ctx context.Context, clientKey string) (string, error)
	PutUserID(ctx context.Context, clientKey, userID string) error
}

// Manager hands out user and session ids. It owns no ambient state; token
// generation is injectable so tests stay deterministic.
type Manager struct {
	store    Store
	sf       singleflight.Group
	newToken func() string
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, newToken: uuid.NewString}
}

// NewManagerWithTokens is test-only for deterministic ids.
func NewManagerWithTokens(store Store, newToken func() string) *Manager {
	return &Manager{store: store, newToken: newToken}
}

// EnsureUserID returns the persisted user id for the client key, creating
// and persisting one on first use. Idempotent across calls within the same
// browser session; concurrent first calls for one key are deduplicated so
// only a single token is ever minted.
func (m *Manager) EnsureUserID(ctx context.Context, clientKey string) (string, error) {
	id, err, _ := m.sf.Do(clientKey, func() (interface{}, error) {
		existing, err := m.store.GetUserID(ctx, clientKey)
		if err != nil {
			return "", errors.Wrap(err, "read user id")
		}
		if existing != "" {
			return existing, nil
		}
		created := "user-" + m.newToken()
		if err := m.store.PutUserID(ctx, clientKey, created); err != nil {
			return "", errors.Wrap(err, "persist user id")
		}
		return created, nil
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// NewSessionID mints a fresh session token. Called exactly once per quiz
// start; the token travels as correlation context on every agent call of
// that attempt.
func (m *Manager) NewSessionID() string {
	return m.newToken()
}
