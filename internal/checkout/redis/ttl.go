package redis

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix marks the session-TTL keys this service owns; the keyspace
// expiry subscription filters on it.
const KeyPrefix = "checkout_session:"

// Tracker mirrors pending-session TTLs into Redis. The key carries no
// payload beyond the session id; its expiry event is what matters.
type Tracker struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{
		Client: client,
		Logger: log.Default(),
	}
}

func keyFor(sessionID string) string {
	return KeyPrefix + sessionID
}

// SessionIDFromKey extracts the session id from an expired-key payload,
// or "" when the key is not ours.
func SessionIDFromKey(key string) string {
	if !strings.HasPrefix(key, KeyPrefix) {
		return ""
	}
	return strings.TrimPrefix(key, KeyPrefix)
}

// Track sets the TTL key for a freshly created pending session.
func (t *Tracker) Track(ctx context.Context, sessionID string, ttl time.Duration) error {
	return t.Client.Set(ctx, keyFor(sessionID), sessionID, ttl).Err()
}

// Forget drops the TTL key once the session reached a terminal state, so
// its expiry no longer fires.
func (t *Tracker) Forget(ctx context.Context, sessionID string) error {
	err := t.Client.Del(ctx, keyFor(sessionID)).Err()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// IsTracked reports whether the TTL key still exists.
func (t *Tracker) IsTracked(ctx context.Context, sessionID string) (bool, error) {
	_, err := t.Client.Get(ctx, keyFor(sessionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
