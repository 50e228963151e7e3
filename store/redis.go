package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces Redis keys.
const DefaultKeyPrefix = "patienthub:sessions"

// RedisStorage keeps each transcript as a JSON string under
// "{prefix}:{session_id}" and indexes ids in the sorted set "{prefix}:index"
// scored by end time.
type RedisStorage struct {
	client *redis.Client
	opts   Options
}

// NewRedisStorage connects to redisURL and pings the server.
func NewRedisStorage(ctx context.Context, redisURL string, opts Options) (*RedisStorage, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return NewRedisStorageFromClient(client, opts), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, opts Options) *RedisStorage {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisStorage{client: client, opts: opts}
}

func (s *RedisStorage) key(id string) string {
	return fmt.Sprintf("%s:%s", s.opts.KeyPrefix, id)
}

func (s *RedisStorage) indexKey() string {
	return s.opts.KeyPrefix + ":index"
}

// Save stores t and updates the index.
func (s *RedisStorage) Save(ctx context.Context, t *Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(t.ID), data, s.opts.TTL)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(t.EndedAt.UnixNano()) / 1e9,
		Member: t.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Load returns the transcript with id.
func (s *RedisStorage) Load(ctx context.Context, id string) (*Transcript, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", id, err)
	}
	return &t, nil
}

// List returns transcripts by descending end time. Ids whose key expired
// are dropped from the index.
func (s *RedisStorage) List(ctx context.Context, limit int) ([]*Transcript, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	out := make([]*Transcript, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
