package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/persistence"
)

// Registry hands out one Coordinator per session, restoring each from the
// shared store on first use.
type Registry struct {
	store        persistence.SessionStore
	orchestrator Orchestrator
	cfg          CoordinatorConfig
	opts         []CoordinatorOption
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

// NewRegistry creates a registry. opts are applied to every coordinator.
func NewRegistry(store persistence.SessionStore, orchestrator Orchestrator, cfg CoordinatorConfig, logger *zap.Logger, opts ...CoordinatorOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = persistence.NewMemorySessionStore()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultCoordinatorConfig().SweepInterval
	}
	return &Registry{
		store:        store,
		orchestrator: orchestrator,
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		sessions:     make(map[string]*Coordinator),
	}
}

// Session returns the coordinator for sessionID.
func (r *Registry) Session(ctx context.Context, sessionID string) (*Coordinator, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[sessionID]; ok {
		return c, nil
	}

	c := NewCoordinator(sessionID, r.store, r.orchestrator, r.cfg, r.logger, r.opts...)
	if err := c.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	r.sessions[sessionID] = c
	return c, nil
}

// Sweep sweeps every session known to the store and returns the total
// number of removed handoffs.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	ids, err := r.store.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	total := 0
	for _, id := range ids {
		c, err := r.Session(ctx, id)
		if err != nil {
			r.logger.Warn("skipping session during sweep", zap.String("session_id", id), zap.Error(err))
			continue
		}
		n, err := c.Sweep(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Run sweeps all sessions every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("handoff sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("swept handoffs", zap.Int("removed", n))
			}
		}
	}
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
