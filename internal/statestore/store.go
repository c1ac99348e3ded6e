// Package statestore keeps the short-lived authentication state in Redis:
// OAuth CSRF state values, per-user session records and the token
// blacklist. Every entry carries a TTL and expires on its own.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes. State keys are namespaced by the caller.
const (
	sessionKeyPrefix   = "session:"
	blacklistKeyPrefix = "blacklist:"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("statestore: not found")

// Session is the record kept for a logged-in user. One per user; a new
// login overwrites the previous one.
type Session struct {
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the Redis-backed state store. Safe for concurrent use.
type Store struct {
	rdb *redis.Client
}

// New creates a Store on an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// PutState stores an OAuth state payload under key for ttl.
func (s *Store) PutState(ctx context.Context, key string, payload map[string]any, ttl time.Duration) error {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling state payload: %w", err)
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing state: %w", err)
	}
	return nil
}

// TakeState returns the payload stored under key and deletes it in the same
// step, so of any number of concurrent callers at most one succeeds.
func (s *Store) TakeState(ctx context.Context, key string) (map[string]any, error) {
	data, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking state: %w", err)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling state payload: %w", err)
	}
	return payload, nil
}

// PutSession writes the session record for a user, replacing any existing one.
func (s *Store) PutSession(ctx context.Context, session Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(session.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing session in Redis: %w", err)
	}
	return nil
}

// GetSession reads the session record for a user.
func (s *Store) GetSession(ctx context.Context, userID int64) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from Redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes a user's session. Reports whether one existed.
func (s *Store) DeleteSession(ctx context.Context, userID int64) (bool, error) {
	n, err := s.rdb.Del(ctx, sessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting session from Redis: %w", err)
	}
	return n > 0, nil
}

// Blacklist marks a token id as revoked for ttl. A non-positive ttl is a
// no-op: the token has already expired and needs no entry.
func (s *Store) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a token id has been revoked.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("checking token blacklist: %w", err)
	}
	return n > 0, nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionKey(userID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(userID, 10)
}
