package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by a StateStore when no workflow exists for a unit.
var ErrNotFound = errors.New("workflow not found")

// StateStore persists workflow states. Any error other than ErrNotFound is
// treated as the store being unavailable.
type StateStore interface {
	Get(ctx context.Context, unitID string) (*State, error)
	Save(ctx context.Context, state *State) error
}

// =============================================================================
// 内存实现
// =============================================================================

// MemoryStateStore is the in-memory StateStore. It serves as the fallback
// when the durable store is unavailable and as the store in tests.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*State)}
}

// Get implements StateStore.
func (m *MemoryStateStore) Get(_ context.Context, unitID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[unitID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Save implements StateStore.
func (m *MemoryStateStore) Save(_ context.Context, state *State) error {
	if state == nil || state.UnitID == "" {
		return fmt.Errorf("invalid workflow state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.UnitID] = state.Clone()
	return nil
}

// Delete removes a unit.
func (m *MemoryStateStore) Delete(unitID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, unitID)
}

// units returns the stored unit ids in order.
func (m *MemoryStateStore) units() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// GORM 实现
// =============================================================================

// GormStateStore persists workflow states in the workflow_states table.
type GormStateStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormStateStore creates a gorm-backed store. timeout bounds each
// operation; zero means no extra bound.
func NewGormStateStore(db *gorm.DB, timeout time.Duration) *GormStateStore {
	return &GormStateStore{db: db, timeout: timeout}
}

func (g *GormStateStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return ctx, func() {}
}

// Get implements StateStore.
func (g *GormStateStore) Get(ctx context.Context, unitID string) (*State, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var st State
	err := g.db.WithContext(ctx).Where("unit_id = ?", unitID).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", unitID, err)
	}
	return normalize(&st), nil
}

// Save implements StateStore as an upsert keyed by unit_id.
func (g *GormStateStore) Save(ctx context.Context, state *State) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	row := state.Clone()
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unit_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", state.UnitID, err)
	}
	return nil
}

// normalize replaces nil collections decoded from the database.
func normalize(st *State) *State {
	if st.StageResults == nil {
		st.StageResults = make(map[Stage]json.RawMessage)
	}
	if st.CompletedStages == nil {
		st.CompletedStages = []Stage{}
	}
	if st.SceneStatuses == nil {
		st.SceneStatuses = make(map[string]SceneStatus)
	}
	return st
}
