package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rvndrmann/mannmediaagency-sub005/internal/tlsutil"
)

// RedisSessionStore is a Redis-based implementation of SessionStore.
// Suitable for distributed production deployments.
// Each session is one Redis Hash (field = record id); a Set indexes the
// non-empty sessions.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSessionStore creates a new Redis-based session store
func NewRedisSessionStore(config StoreConfig) (*RedisSessionStore, error) {
	opts := &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	}
	if config.Redis.TLS {
		opts.TLSConfig = tlsutil.ClientConfig()
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "mannmedia:"
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = "session"
	}

	return &RedisSessionStore{
		client:    client,
		keyPrefix: keyPrefix + namespace + ":",
	}, nil
}

// Close closes the store
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// sessionKey returns the Redis hash key for a session
func (s *RedisSessionStore) sessionKey(sessionID string) string {
	return s.keyPrefix + sessionID
}

// indexKey returns the Redis set key indexing non-empty sessions
func (s *RedisSessionStore) indexKey() string {
	return s.keyPrefix + "_sessions"
}

// Put inserts or replaces a record
func (s *RedisSessionStore) Put(ctx context.Context, sessionID string, rec Record) error {
	if err := validateKey(sessionID, rec.ID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sessionKey(sessionID), rec.ID, data)
		pipe.SAdd(ctx, s.indexKey(), sessionID)
		return nil
	})
	return err
}

// Get returns one record
func (s *RedisSessionStore) Get(ctx context.Context, sessionID, id string) (Record, error) {
	if err := validateKey(sessionID, id); err != nil {
		return Record{}, err
	}

	data, err := s.client.HGet(ctx, s.sessionKey(sessionID), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// List returns every record of a session ordered by id
func (s *RedisSessionStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(fields))
	for id, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes records and drops the session from the index once empty
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	key := s.sessionKey(sessionID)

	var remaining *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, ids...)
		remaining = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return err
	}
	if remaining.Val() == 0 {
		return s.client.SRem(ctx, s.indexKey(), sessionID).Err()
	}
	return nil
}

// Sessions returns the ids of non-empty sessions
func (s *RedisSessionStore) Sessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
