package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/redis/go-redis/v9"
)

// sessionTTL bounds how long an abandoned order conversation lingers.
const sessionTTL = 30 * time.Minute

// SessionStore implements domain.SessionStore using Redis string keys with
// JSON-serialized FlowSession data. Sessions live out of process so a bot
// restart does not strand users mid-conversation.
//
// Key schema:
//
//	session:{chatID}:{userID} - JSON FlowSession
type SessionStore struct {
	rdb *redis.Client
}

// NewSessionStore creates a SessionStore backed by the given Client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{rdb: c.Underlying()}
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf(keyPrefix+"session:%d:%d", chatID, userID)
}

// Get retrieves the active session for a (chat, user) pair.
// It returns domain.ErrNotFound when no conversation is in progress.
func (ss *SessionStore) Get(ctx context.Context, chatID, userID int64) (domain.FlowSession, error) {
	data, err := ss.rdb.Get(ctx, sessionKey(chatID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FlowSession{}, domain.ErrNotFound
		}
		return domain.FlowSession{}, fmt.Errorf("redis: get session %d/%d: %w", chatID, userID, err)
	}

	var sess domain.FlowSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return domain.FlowSession{}, fmt.Errorf("redis: unmarshal session %d/%d: %w", chatID, userID, err)
	}
	return sess, nil
}

// Put stores a session, refreshing its TTL.
func (ss *SessionStore) Put(ctx context.Context, sess domain.FlowSession) error {
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: marshal session %d/%d: %w", sess.ChatID, sess.UserID, err)
	}

	key := sessionKey(sess.ChatID, sess.UserID)
	if err := ss.rdb.Set(ctx, key, data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("redis: put session %d/%d: %w", sess.ChatID, sess.UserID, err)
	}
	return nil
}

// Delete removes the session for a (chat, user) pair. Deleting an absent
// session is a no-op.
func (ss *SessionStore) Delete(ctx context.Context, chatID, userID int64) error {
	if err := ss.rdb.Del(ctx, sessionKey(chatID, userID)).Err(); err != nil {
		return fmt.Errorf("redis: delete session %d/%d: %w", chatID, userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
