package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// BreakerConfigFrom converts the application workflow configuration.
func BreakerConfigFrom(cfg config.WorkflowConfig) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerMetrics attaches a metrics collector.
func WithTrackerMetrics(m *metrics.Collector) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithTrackerClock replaces time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
		t.breaker.now = now
	}
}

// Tracker records the progress of each unit of work through the pipeline
// stages. Operations go to the primary store; when it fails they run
// against an in-memory store with the same contract, seeded from the last
// state this tracker saw, so callers never handle storage outages.
type Tracker struct {
	primary  StateStore
	fallback *MemoryStateStore
	breaker  *storeBreaker
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*unitLock

	cacheMu sync.RWMutex
	cache   map[string]*State
}

type unitLock struct {
	mu   sync.Mutex
	refs int
}

// NewTracker creates a tracker. primary may be nil, in which case only the
// in-memory store is used.
func NewTracker(primary StateStore, cfg BreakerConfig, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "stage_tracker"))

	t := &Tracker{
		primary:  primary,
		fallback: NewMemoryStateStore(),
		breaker:  newStoreBreaker(cfg, logger),
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*unitLock),
		cache:    make(map[string]*State),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartWorkflow marks a unit's workflow in progress, creating it when
// absent. stages sets the pipeline of a new workflow, defaulting to the
// media production stages; for an existing workflow any stage it lacks is
// appended. A completed workflow is returned unchanged; a failed one resumes.
func (t *Tracker) StartWorkflow(ctx context.Context, unitID string, stages ...Stage) (State, error) {
	if unitID == "" {
		return State{}, types.NewInvalidRequestError("unit id is required")
	}
	if err := validatePipeline(stages); err != nil {
		return State{}, err
	}
	return t.mutate(ctx, unitID, "start", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			st := newState(unitID, now, stages)
			st.Status = StatusInProgress
			st.StartedAt = &now
			st.recomputeProgress()
			t.logger.Info("workflow started", zap.String("unit_id", unitID), zap.Int("stages", len(st.Stages)))
			return st, true, nil
		}
		if cur.Status == StatusCompleted {
			return cur, false, nil
		}
		grown := false
		for _, stage := range stages {
			if cur.ensureStage(stage) {
				grown = true
			}
		}
		if grown {
			cur.recomputeProgress()
		}
		if cur.Status == StatusInProgress && cur.StartedAt != nil {
			return cur, grown, nil
		}
		cur.Status = StatusInProgress
		cur.ErrorMessage = ""
		if cur.StartedAt == nil {
			cur.StartedAt = &now
		}
		t.logger.Info("workflow resumed", zap.String("unit_id", unitID))
		return cur, true, nil
	})
}

// UpdateStage records the status and result of one stage, creating the
// workflow on the first update of a unit. A stage outside the pipeline is
// appended to it. A completed stage is appended to CompletedStages once; a
// failed stage records a stage error and fails the workflow without
// advancing the current stage.
func (t *Tracker) UpdateStage(ctx context.Context, unitID string, stage Stage, status Status, result json.RawMessage) (State, error) {
	if unitID == "" {
		return State{}, types.NewInvalidRequestError("unit id is required")
	}
	if !stage.Valid() {
		return State{}, types.NewInvalidRequestError(fmt.Sprintf("invalid stage name %q", stage))
	}
	if !status.Valid() {
		return State{}, types.NewInvalidRequestError(fmt.Sprintf("unknown stage status %q", status))
	}
	if len(result) > 0 && !json.Valid(result) {
		return State{}, types.NewInvalidRequestError("stage result must be valid JSON")
	}

	st, err := t.mutate(ctx, unitID, "update_stage", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			cur = t.createOnUpdate(unitID, stage, now)
		}
		if cur.Status == StatusCompleted {
			return nil, false, terminal(unitID)
		}
		cur.ensureStage(stage)
		if len(result) > 0 {
			cur.StageResults[stage] = append(json.RawMessage(nil), result...)
		}

		switch status {
		case StatusCompleted:
			cur.markCompleted(stage)
			if cur.CurrentStage == stage {
				cur.CurrentStage = cur.nextOpenStage(stage)
			}
			cur.Status = StatusInProgress
			cur.ErrorMessage = ""
		case StatusFailed:
			cur.Status = StatusFailed
			cur.ErrorMessage = types.NewStageError(string(stage), stageFailureMessage(result)).Message
		default:
			cur.CurrentStage = stage
			cur.Status = StatusInProgress
			cur.ErrorMessage = ""
		}
		cur.recomputeProgress()
		return cur, true, nil
	})
	if err == nil {
		t.metrics.RecordStageUpdate(string(stage), string(status))
		t.logger.Debug("stage updated",
			zap.String("unit_id", unitID),
			zap.String("stage", string(stage)),
			zap.String("status", string(status)),
		)
	}
	return st, err
}

// createOnUpdate starts a workflow for a unit first seen through a stage
// update. A stage of the default pipeline implies that pipeline; any other
// stage begins a custom pipeline that grows as stages are reported.
func (t *Tracker) createOnUpdate(unitID string, stage Stage, now time.Time) *State {
	var stages []Stage
	if !slices.Contains(defaultPipeline, stage) {
		stages = []Stage{stage}
	}
	st := newState(unitID, now, stages)
	st.Status = StatusInProgress
	st.StartedAt = &now
	t.logger.Info("workflow started by stage update",
		zap.String("unit_id", unitID),
		zap.String("stage", string(stage)),
	)
	return st
}

// CompleteWorkflow marks the workflow completed.
func (t *Tracker) CompleteWorkflow(ctx context.Context, unitID string) (State, error) {
	return t.mutate(ctx, unitID, "complete", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			return nil, false, notFound(unitID)
		}
		if cur.Status == StatusCompleted {
			return cur, false, nil
		}
		cur.Status = StatusCompleted
		cur.CompletedAt = &now
		cur.ErrorMessage = ""
		cur.recomputeProgress()
		t.logger.Info("workflow completed", zap.String("unit_id", unitID))
		return cur, true, nil
	})
}

// FailWorkflow marks the workflow failed with message.
func (t *Tracker) FailWorkflow(ctx context.Context, unitID, message string) (State, error) {
	return t.mutate(ctx, unitID, "fail", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			return nil, false, notFound(unitID)
		}
		if cur.Status == StatusCompleted {
			return nil, false, terminal(unitID)
		}
		cur.Status = StatusFailed
		cur.ErrorMessage = message
		t.logger.Warn("workflow failed", zap.String("unit_id", unitID), zap.String("error", message))
		return cur, true, nil
	})
}

// UpdateSceneStatus records the status of one scene and recomputes progress
// as the share of completed scenes.
func (t *Tracker) UpdateSceneStatus(ctx context.Context, unitID, sceneID string, status Status, data json.RawMessage) (State, error) {
	if sceneID == "" {
		return State{}, types.NewInvalidRequestError("scene id is required")
	}
	if !status.Valid() {
		return State{}, types.NewInvalidRequestError(fmt.Sprintf("unknown scene status %q", status))
	}
	if len(data) > 0 && !json.Valid(data) {
		return State{}, types.NewInvalidRequestError("scene data must be valid JSON")
	}
	return t.mutate(ctx, unitID, "update_scene", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			return nil, false, notFound(unitID)
		}
		if cur.Status == StatusCompleted {
			return nil, false, terminal(unitID)
		}
		cur.SceneStatuses[sceneID] = SceneStatus{
			Status:    status,
			UpdatedAt: now,
			Data:      append(json.RawMessage(nil), data...),
		}
		cur.recomputeProgress()
		return cur, true, nil
	})
}

// RetryFromStage resumes a workflow at stage, discarding that stage's
// previous result. CompletedStages is left untouched.
func (t *Tracker) RetryFromStage(ctx context.Context, unitID string, stage Stage) (State, error) {
	if !stage.Valid() {
		return State{}, types.NewInvalidRequestError(fmt.Sprintf("invalid stage name %q", stage))
	}
	return t.mutate(ctx, unitID, "retry", func(cur *State, now time.Time) (*State, bool, error) {
		if cur == nil {
			return nil, false, notFound(unitID)
		}
		if cur.Status == StatusCompleted {
			return nil, false, terminal(unitID)
		}
		if !slices.Contains(cur.pipeline(), stage) {
			return nil, false, types.NewInvalidRequestError(
				fmt.Sprintf("stage %q is not part of workflow %s", stage, unitID))
		}
		cur.Status = StatusInProgress
		cur.ErrorMessage = ""
		cur.CurrentStage = stage
		delete(cur.StageResults, stage)
		t.logger.Info("workflow retried", zap.String("unit_id", unitID), zap.String("stage", string(stage)))
		return cur, true, nil
	})
}

// GetWorkflow returns the current state of a unit's workflow.
func (t *Tracker) GetWorkflow(ctx context.Context, unitID string) (State, error) {
	st, err := t.load(ctx, unitID, "get")
	if errors.Is(err, ErrNotFound) {
		return State{}, notFound(unitID)
	}
	if err != nil {
		return State{}, err
	}
	t.publish(st)
	return *st.Clone(), nil
}

// Snapshot returns the last state this tracker observed for a unit without
// touching any store.
func (t *Tracker) Snapshot(unitID string) (State, bool) {
	t.cacheMu.RLock()
	st, ok := t.cache[unitID]
	t.cacheMu.RUnlock()
	if !ok {
		return State{}, false
	}
	return *st.Clone(), true
}

// BreakerState reports whether the primary store is currently bypassed.
func (t *Tracker) BreakerState() CircuitState {
	return t.breaker.current()
}

type mutation func(cur *State, now time.Time) (next *State, changed bool, err error)

// mutate runs a read-modify-write for one unit under that unit's lock.
func (t *Tracker) mutate(ctx context.Context, unitID, op string, fn mutation) (State, error) {
	unlock := t.lock(unitID)
	defer unlock()

	cur, err := t.load(ctx, unitID, op)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return State{}, err
	}

	now := t.now().UTC()
	next, changed, err := fn(cur, now)
	if err != nil {
		return State{}, err
	}
	if changed {
		next.UpdatedAt = now
		t.save(ctx, next, op)
	}
	t.publish(next)
	return *next.Clone(), nil
}

// load reads a unit from the primary store, or from the fallback when the
// primary is unavailable. A fallback copy holds writes the primary missed
// and wins unless the primary's copy is strictly newer.
func (t *Tracker) load(ctx context.Context, unitID, op string) (*State, error) {
	if t.primary != nil && t.breaker.allow() {
		st, err := t.primary.Get(ctx, unitID)
		switch {
		case err == nil:
			t.breaker.success()
			if fb, ferr := t.fallback.Get(ctx, unitID); ferr == nil && !st.UpdatedAt.After(fb.UpdatedAt) {
				return fb, nil
			}
			return st, nil
		case errors.Is(err, ErrNotFound):
			t.breaker.success()
			if fb, ferr := t.fallback.Get(ctx, unitID); ferr == nil {
				return fb, nil
			}
			return nil, ErrNotFound
		default:
			t.breaker.failure()
			t.degraded(op, err)
		}
	} else if t.primary != nil {
		t.degraded(op, nil)
	}

	if st, err := t.fallback.Get(ctx, unitID); err == nil {
		return st, nil
	}
	t.cacheMu.RLock()
	cached, ok := t.cache[unitID]
	t.cacheMu.RUnlock()
	if ok {
		seed := cached.Clone()
		_ = t.fallback.Save(ctx, seed)
		return seed, nil
	}
	return nil, ErrNotFound
}

// save writes to the primary store, or to the fallback when the primary is
// unavailable. A successful primary write drops the fallback copy.
func (t *Tracker) save(ctx context.Context, st *State, op string) {
	if t.primary != nil && t.breaker.allow() {
		err := t.primary.Save(ctx, st)
		if err == nil {
			t.breaker.success()
			t.fallback.Delete(st.UnitID)
			return
		}
		t.breaker.failure()
		t.degraded(op, err)
	} else if t.primary != nil {
		t.degraded(op, nil)
	}
	_ = t.fallback.Save(ctx, st)
}

func (t *Tracker) degraded(op string, err error) {
	t.metrics.RecordStoreFallback(op)
	if err != nil {
		t.logger.Warn("state store unavailable, using in-memory store",
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

// publish swaps the cached record for unitID.
func (t *Tracker) publish(st *State) {
	if st == nil {
		return
	}
	cp := st.Clone()
	t.cacheMu.Lock()
	t.cache[st.UnitID] = cp
	t.cacheMu.Unlock()
}

func (t *Tracker) lock(unitID string) func() {
	t.mu.Lock()
	l, ok := t.locks[unitID]
	if !ok {
		l = &unitLock{}
		t.locks[unitID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, unitID)
		}
		t.mu.Unlock()
	}
}

// validatePipeline checks caller-supplied stage names.
func validatePipeline(stages []Stage) *types.Error {
	seen := make(map[Stage]struct{}, len(stages))
	for _, stage := range stages {
		if !stage.Valid() {
			return types.NewInvalidRequestError(fmt.Sprintf("invalid stage name %q", stage))
		}
		if _, dup := seen[stage]; dup {
			return types.NewInvalidRequestError(fmt.Sprintf("stage %q listed twice", stage))
		}
		seen[stage] = struct{}{}
	}
	return nil
}

func stageFailureMessage(result json.RawMessage) string {
	if len(bytes.TrimSpace(result)) == 0 {
		return "stage failed"
	}
	return types.ReadErrorMessage(bytes.NewReader(result))
}

func notFound(unitID string) *types.Error {
	return types.NewError(types.ErrWorkflowNotFound, fmt.Sprintf("workflow %s not found", unitID)).
		WithHTTPStatus(http.StatusNotFound)
}

func terminal(unitID string) *types.Error {
	return types.NewError(types.ErrWorkflowTerminal, fmt.Sprintf("workflow %s is already completed", unitID)).
		WithHTTPStatus(http.StatusConflict)
}
