package gridsession

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the Store interface on a Redis server or cluster.
// This is the distributed data-grid backend: every node of the application
// cluster pointed at the same Redis sees the same sessions, which is what
// makes session replication across nodes work.
type RedisStore struct {
	client          *redis.Client
	prefix          string
	maxSessionBytes int
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// ClusterName namespaces the session keys so several independent
	// application clusters can share one Redis. Defaults to "grid".
	ClusterName string

	MaxSessionBytes int
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg)
}

// NewRedisStoreFromClient creates a RedisStore on an existing client. The
// store takes ownership of the client; Close closes it.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.ClusterName == "" {
		cfg.ClusterName = "grid"
	}
	return &RedisStore{
		client:          client,
		prefix:          cfg.ClusterName + ":session:",
		maxSessionBytes: cfg.MaxSessionBytes,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Ping verifies connectivity to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Get retrieves a session from Redis.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	if s.maxSessionBytes > 0 && len(data) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}

	return decodeEnvelope(data, id)
}

// Save stores a session in Redis with a TTL matching the session expiry, so
// the server expires it without any cleanup pass on our side.
func (s *RedisStore) Save(ctx context.Context, session *Session) error {
	// Skip sessions that are already expired.
	if !session.ExpiresAt.IsZero() && time.Until(session.ExpiresAt) <= 0 {
		return nil
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer PutBuffer(buf)

	if err := encodeEnvelope(buf, session); err != nil {
		return err
	}

	if s.maxSessionBytes > 0 && buf.Len() > s.maxSessionBytes {
		return ErrSessionTooLarge
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt)
	}

	if err := s.client.Set(ctx, s.key(session.ID), buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes a session from Redis.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Cleanup is a no-op for Redis as key TTLs handle expiration server-side.
func (s *RedisStore) Cleanup(ctx context.Context) error {
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
