// Package store provides external backends for conversation history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/defensa-digital/contratos-rag/history"
)

// RedisStore keeps each thread as a Redis list, newest turn last.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds the connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore creates a Redis-backed history store.
func NewRedisStore(cfg *RedisConfig) *RedisStore {
	if cfg == nil {
		cfg = &RedisConfig{Addr: "localhost:6379"}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "contratos:hilo:"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

const redisMaxRetained = 50

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) Append(ctx context.Context, threadID string, turn history.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.key(threadID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -redisMaxRetained, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, threadID string, n int) ([]history.Turn, error) {
	if n <= 0 {
		n = history.DefaultWindow
	}
	raw, err := s.client.LRange(ctx, s.key(threadID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	turns := make([]history.Turn, 0, len(raw))
	for _, item := range raw {
		var turn history.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) Clear(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("clear thread %s: %w", threadID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
