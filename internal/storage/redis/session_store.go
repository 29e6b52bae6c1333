// Package redis stores ActionSessions in Redis so several relay processes can
// share conversation state. SessionStore alone does not order concurrent
// turns; processes sharing it must also share a KeyLock.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

const keyPrefix = "action_session:"

// SessionStore implements storage.SessionStore on Redis strings holding JSON.
// Entries carry a TTL as a backstop; the session manager still applies its
// own idle check on read.
type SessionStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewSessionStore creates a store. ttl <= 0 disables key expiry.
func NewSessionStore(client *goredis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var _ storage.SessionStore = (*SessionStore)(nil)

// Get returns the session for key. Returns ErrNotFound if absent.
func (s *SessionStore) Get(ctx context.Context, key string) (*domain.ActionSession, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess domain.ActionSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Put creates or replaces the session and refreshes its TTL.
func (s *SessionStore) Put(ctx context.Context, sess *domain.ActionSession) error {
	if sess == nil || sess.Key == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.Key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Delete removes the session for key.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
