package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MemorySessionStore 以 map 實作的 session，供開發與測試使用
type MemorySessionStore struct {
	mu     sync.RWMutex
	values map[model.SessionKey]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		values: make(map[model.SessionKey]string),
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, key model.SessionKey) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemorySessionStore) Set(ctx context.Context, key model.SessionKey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemorySessionStore) Remove(ctx context.Context, keys ...model.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

// Snapshot 複製目前所有鍵值
func (s *MemorySessionStore) Snapshot() map[model.SessionKey]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.SessionKey]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// RedisSessionStore 每個乘客 session 對應一個 Redis hash，寫入時刷新 TTL
type RedisSessionStore struct {
	logger    zerolog.Logger
	client    *redis.Client
	sessionID string
	ttl       time.Duration
}

func NewRedisSessionStore(logger zerolog.Logger, client *redis.Client, sessionID string, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		logger:    logger.With().Str("module", "redis_session_store").Str("session_id", sessionID).Logger(),
		client:    client,
		sessionID: sessionID,
		ttl:       ttl,
	}
}

func (s *RedisSessionStore) hashKey() string {
	return fmt.Sprintf("rider_session:%s", s.sessionID)
}

func (s *RedisSessionStore) Get(ctx context.Context, key model.SessionKey) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hashKey(), key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("讀取 session %s 失敗: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, key model.SessionKey, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.hashKey(), key.String(), value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.hashKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("寫入 session %s 失敗: %w", key, err)
	}
	return nil
}

func (s *RedisSessionStore) Remove(ctx context.Context, keys ...model.SessionKey) error {
	if len(keys) == 0 {
		return nil
	}
	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, key.String())
	}
	if err := s.client.HDel(ctx, s.hashKey(), fields...).Err(); err != nil {
		return fmt.Errorf("清除 session 失敗: %w", err)
	}
	s.logger.Debug().Strs("keys", fields).Msg("session 鍵已清除")
	return nil
}

var (
	_ interfaces.SessionStore = (*MemorySessionStore)(nil)
	_ interfaces.SessionStore = (*RedisSessionStore)(nil)
)
