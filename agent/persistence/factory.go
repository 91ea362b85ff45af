package persistence

import (
	"fmt"
)

// NewSessionStore creates a new SessionStore based on the configuration
func NewSessionStore(config StoreConfig) (SessionStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemorySessionStore(), nil
	case StoreTypeFile:
		return NewFileSessionStore(config)
	case StoreTypeRedis:
		return NewRedisSessionStore(config)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}

// MustNewSessionStore creates a new SessionStore or panics on error.
//
// WARNING: This function should ONLY be used during application initialization
// (e.g., in main() or init()). For runtime store creation, use NewSessionStore instead.
func MustNewSessionStore(config StoreConfig) SessionStore {
	store, err := NewSessionStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create session store: %v", err))
	}
	return store
}
