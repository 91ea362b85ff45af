package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Namespace separates record kinds sharing one backend, e.g. "handoff"
	Namespace string `json:"namespace" yaml:"namespace"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	TLS       bool   `json:"tls" yaml:"tls"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		Namespace: "handoff",
		BaseDir:   "./data/handoffs",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "mannmedia:",
		},
	}
}

// StoreConfigFrom builds the handoff store configuration from the
// application config.
func StoreConfigFrom(handoff config.HandoffConfig, redis config.RedisConfig) StoreConfig {
	return StoreConfig{
		Type:      StoreType(handoff.StoreType),
		Namespace: "handoff",
		BaseDir:   handoff.BaseDir,
		Redis: RedisStoreConfig{
			Addr:      redis.Addr,
			Password:  redis.Password,
			DB:        redis.DB,
			PoolSize:  redis.PoolSize,
			KeyPrefix: redis.KeyPrefix,
			TLS:       redis.TLS,
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// Record is one entry persisted under a session. Data is opaque to the
// store; callers own its encoding.
type Record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r Record) clone() Record {
	r.Data = append(json.RawMessage(nil), r.Data...)
	return r
}

// SessionStore persists records keyed by session id so they survive
// restarts. Put replaces the whole record.
type SessionStore interface {
	Store

	// Put inserts or replaces a record
	Put(ctx context.Context, sessionID string, rec Record) error

	// Get returns one record or ErrNotFound
	Get(ctx context.Context, sessionID, id string) (Record, error)

	// List returns every record of a session ordered by id
	List(ctx context.Context, sessionID string) ([]Record, error)

	// Delete removes records; missing ids are ignored
	Delete(ctx context.Context, sessionID string, ids ...string) error

	// Sessions returns the ids of sessions holding at least one record
	Sessions(ctx context.Context) ([]string, error)
}

func validateKey(sessionID, id string) error {
	if sessionID == "" || id == "" {
		return ErrInvalidInput
	}
	return nil
}
