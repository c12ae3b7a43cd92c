// Package storage provides the two optional external stores: a Redis cache
// for hot per-room state and a MySQL repository for durable state. Both
// treat a missing backend as a no-op so the simulation keeps running on
// purely in-memory state when either is down.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

// Cache key TTLs per key class.
const (
	playersTTL  = 6 * time.Hour
	snapshotTTL = time.Hour
	treeTTL     = 24 * time.Hour
	chatTTL     = 6 * time.Hour

	chatRingSize = 50
)

// RedisStore is the hot store: per-room player index, latest snapshot,
// chat ring and tree state.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisStore connects to url. An empty url, an unparsable url or a
// failed ping all yield a disabled store whose operations are no-ops.
func NewRedisStore(ctx context.Context, url string, log *zap.Logger) *RedisStore {
	s := &RedisStore{log: log}
	if url == "" {
		return s
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("redis url unparsable, cache disabled", zap.Error(err))
		return s
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, cache disabled", zap.Error(err))
		_ = client.Close()
		return s
	}
	s.client = client
	log.Info("redis cache connected")
	return s
}

// Enabled reports whether a backend is attached.
func (s *RedisStore) Enabled() bool { return s.client != nil }

// Close releases the client.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func playersKey(roomID string) string  { return fmt.Sprintf("room:%s:players", roomID) }
func snapshotKey(roomID string) string { return fmt.Sprintf("room:%s:snapshot", roomID) }
func treeKey(roomID string) string     { return fmt.Sprintf("room:%s:tree", roomID) }
func chatKey(roomID string) string     { return fmt.Sprintf("room:%s:chat", roomID) }

// UpsertPlayer records a player name in the room's player index.
func (s *RedisStore) UpsertPlayer(ctx context.Context, roomID, playerID, name string) error {
	if s.client == nil {
		return nil
	}
	key := playersKey(roomID)
	if err := s.client.HSet(ctx, key, playerID, name).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, playersTTL).Err()
}

// RemovePlayer drops a player from the room's player index.
func (s *RedisStore) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.HDel(ctx, playersKey(roomID), playerID).Err()
}

// SetRoomSnapshot stores the latest snapshot payload.
func (s *RedisStore) SetRoomSnapshot(ctx context.Context, roomID string, payload []byte) error {
	if s.client == nil {
		return nil
	}
	return s.client.Set(ctx, snapshotKey(roomID), payload, snapshotTTL).Err()
}

// SetTreeState stores the tree blob.
func (s *RedisStore) SetTreeState(ctx context.Context, roomID string, state []byte) error {
	if s.client == nil {
		return nil
	}
	return s.client.Set(ctx, treeKey(roomID), state, treeTTL).Err()
}

// TreeState returns the tree blob, or nil on miss.
func (s *RedisStore) TreeState(ctx context.Context, roomID string) ([]byte, error) {
	if s.client == nil {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, treeKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// PushChatMessage prepends a message to the room's chat ring and trims it
// to the newest chatRingSize entries.
func (s *RedisStore) PushChatMessage(ctx context.Context, roomID string, msg protocol.ChatMessage) error {
	if s.client == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := chatKey(roomID)
	if err := s.client.LPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	if err := s.client.LTrim(ctx, key, 0, chatRingSize-1).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, chatTTL).Err()
}

// ChatHistory returns the chat ring oldest-first, skipping entries that no
// longer decode.
func (s *RedisStore) ChatHistory(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	if s.client == nil {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, chatKey(roomID), 0, chatRingSize-1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]protocol.ChatMessage, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var msg protocol.ChatMessage
		if err := json.Unmarshal([]byte(items[i]), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteChatHistory wipes the room's chat ring.
func (s *RedisStore) DeleteChatHistory(ctx context.Context, roomID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, chatKey(roomID)).Err()
}
