package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

// ErrCacheMiss means the key is not cached; callers fall through to MySQL.
var ErrCacheMiss = errors.New("redis: cache miss")

// SessionCache keeps hot session rows in Redis so resume checks do not hit
// MySQL on every WebSocket connect. Entries expire with the session itself.
type SessionCache struct {
	client *redis.Client
}

func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (s *SessionCache) StoreSession(ctx context.Context, session *models.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.Token), sessionJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SessionCache) GetSession(ctx context.Context, token string) (*models.Session, error) {
	sessionJSON, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(sessionJSON, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *SessionCache) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

// DeleteUserSessions drops every cached session belonging to a user. Used
// by account erasure; the scan is fine because the keyspace is small.
func (s *SessionCache) DeleteUserSessions(ctx context.Context, userID string) error {
	iter := s.client.Scan(ctx, 0, "session:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionJSON, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session models.Session
		if err := json.Unmarshal(sessionJSON, &session); err != nil {
			continue
		}
		if session.UserID == userID {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("failed to delete session key: %w", err)
			}
		}
	}
	return iter.Err()
}

// RoomCache mirrors room registry rows for lookup, the same way sessions
// are cached. Rooms are touched constantly, so the TTL is short.
type RoomCache struct {
	client *redis.Client
}

func NewRoomCache(client *redis.Client) *RoomCache {
	return &RoomCache{client: client}
}

func roomKey(id string) string {
	return fmt.Sprintf("room:%s", id)
}

func (c *RoomCache) StoreRoom(ctx context.Context, room *models.RoomRecord) error {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	return c.client.Set(ctx, roomKey(room.ID), roomJSON, time.Hour).Err()
}

func (c *RoomCache) GetRoom(ctx context.Context, id string) (*models.RoomRecord, error) {
	roomJSON, err := c.client.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	var room models.RoomRecord
	if err := json.Unmarshal(roomJSON, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (c *RoomCache) DeleteRoom(ctx context.Context, id string) error {
	return c.client.Del(ctx, roomKey(id)).Err()
}
