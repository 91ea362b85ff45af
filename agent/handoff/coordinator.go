package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/persistence"
	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/telemetry"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

const cancelledMessage = "handoff cancelled"

const interruptedMessage = "handoff interrupted before completion"

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// MessageWindow bounds the trailing messages sent with a handoff.
	MessageWindow int
	// Retention is how long complete handoffs are kept.
	Retention time.Duration
	// SweepInterval is how often Run sweeps.
	SweepInterval time.Duration
}

// DefaultCoordinatorConfig returns the default configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MessageWindow: 10,
		Retention:     24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// CoordinatorConfigFrom converts the application handoff configuration.
func CoordinatorConfigFrom(cfg config.HandoffConfig) CoordinatorConfig {
	out := DefaultCoordinatorConfig()
	if cfg.MessageWindow > 0 {
		out.MessageWindow = cfg.MessageWindow
	}
	if cfg.Retention > 0 {
		out.Retention = cfg.Retention
	}
	if cfg.SweepInterval > 0 {
		out.SweepInterval = cfg.SweepInterval
	}
	return out
}

// FiltersFrom builds the message filters named by the application handoff
// configuration. A system context message always survives the window bound.
func FiltersFrom(cfg config.HandoffConfig) []MessageFilter {
	var filters []MessageFilter
	if cfg.DropToolMessages {
		filters = append(filters, RemoveToolMessages())
	}
	if cfg.SystemContext != "" {
		filters = append(filters,
			KeepLastN(CoordinatorConfigFrom(cfg).MessageWindow-1),
			WithSystemContext(cfg.SystemContext),
		)
	}
	return filters
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithOnComplete sets the callback run once when a handoff completes.
func WithOnComplete(fn func(Request)) CoordinatorOption {
	return func(c *Coordinator) { c.onComplete = fn }
}

// WithOnFailure sets the callback run once when processing a handoff fails.
func WithOnFailure(fn func(Request, *types.Error)) CoordinatorOption {
	return func(c *Coordinator) { c.onFailure = fn }
}

// WithFilters sets the message filters applied before the window bound.
func WithFilters(filters ...MessageFilter) CoordinatorOption {
	return func(c *Coordinator) { c.filters = filters }
}

// WithCoordinatorMetrics attaches a metrics collector.
func WithCoordinatorMetrics(m *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator tracks the handoffs of one session. Records in the map are
// never mutated; updates swap in a new record under the lock so concurrent
// readers never see a partial update.
type Coordinator struct {
	sessionID    string
	store        persistence.SessionStore
	orchestrator Orchestrator
	cfg          CoordinatorConfig
	filters      []MessageFilter
	onComplete   func(Request)
	onFailure    func(Request, *types.Error)
	metrics      *metrics.Collector
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewCoordinator creates a coordinator for sessionID. store may be nil for
// a purely in-memory coordinator.
func NewCoordinator(sessionID string, store persistence.SessionStore, orchestrator Orchestrator, cfg CoordinatorConfig, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = persistence.NewMemorySessionStore()
	}
	def := DefaultCoordinatorConfig()
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = def.MessageWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	c := &Coordinator{
		sessionID:    sessionID,
		store:        store,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger: logger.With(
			zap.String("component", "handoff_coordinator"),
			zap.String("session_id", sessionID),
		),
		tracer:   telemetry.Tracer("agent/handoff"),
		now:      time.Now,
		requests: make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session this coordinator tracks.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// RequestHandoff records a new handoff in pending status. It does not
// contact the orchestrator.
func (c *Coordinator) RequestHandoff(ctx context.Context, fromAgent, targetAgent, reason string, hctx map[string]any) (Request, error) {
	if fromAgent == "" || targetAgent == "" {
		return Request{}, types.NewInvalidRequestError("fromAgent and targetAgent are required")
	}

	now := c.now().UTC()
	req := &Request{
		ID:          uuid.NewString(),
		SessionID:   c.sessionID,
		FromAgent:   fromAgent,
		TargetAgent: targetAgent,
		Reason:      reason,
		Context:     maps.Clone(hctx),
		Timestamp:   now,
		Status:      StatusPending,
		UpdatedAt:   now,
	}

	c.mu.Lock()
	c.requests[req.ID] = req
	c.mu.Unlock()

	c.persist(ctx, req)
	c.metrics.RecordHandoff(targetAgent, string(StatusPending))
	c.logger.Info("handoff requested",
		zap.String("handoff_id", req.ID),
		zap.String("from", fromAgent),
		zap.String("to", targetAgent),
	)
	return *req, nil
}

// ProcessHandoff moves a pending handoff to processing, delivers the
// trailing message window to the orchestrator and settles it as complete or
// failed. Concurrent calls for one id share a single delivery.
func (c *Coordinator) ProcessHandoff(ctx context.Context, id string, messages []Message) Result {
	v, _, _ := c.group.Do(id, func() (any, error) {
		return c.process(ctx, id, messages), nil
	})
	return v.(Result)
}

func (c *Coordinator) process(ctx context.Context, id string, messages []Message) Result {
	req, aerr := c.advance(id, StatusPending, StatusProcessing, func(r *Request) {})
	if aerr != nil {
		return Result{HandoffID: id, Status: c.statusOf(id), Error: aerr}
	}
	c.persist(ctx, req)
	c.metrics.RecordHandoff(req.TargetAgent, string(StatusProcessing))

	ctx, span := c.tracer.Start(ctx, "handoff.process", trace.WithAttributes(
		attribute.String("handoff.id", id),
		attribute.String("handoff.from", req.FromAgent),
		attribute.String("handoff.to", req.TargetAgent),
	))
	defer span.End()

	transfer := TransferRequest{
		HandoffID:   req.ID,
		FromAgent:   req.FromAgent,
		TargetAgent: req.TargetAgent,
		ToolName:    TransferToolName(req.TargetAgent),
		Reason:      req.Reason,
		Context:     req.Context,
		Messages:    c.window(messages),
	}
	span.SetAttributes(attribute.Int("handoff.messages", len(transfer.Messages)))

	var (
		resp json.RawMessage
		err  error
	)
	if c.orchestrator == nil {
		err = errors.New("no orchestrator configured")
	} else {
		resp, err = c.orchestrator.Transfer(ctx, transfer)
	}

	if err != nil {
		herr := types.NewHandoffError(id, err)
		herr.Retryable = types.IsRetryable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		failed, terr := c.advance(id, StatusProcessing, StatusFailed, func(r *Request) { r.Error = err.Error() })
		if terr != nil {
			return Result{HandoffID: id, Status: c.statusOf(id), Error: terr}
		}
		c.persist(ctx, failed)
		c.metrics.RecordHandoff(failed.TargetAgent, string(StatusFailed))
		c.logger.Warn("handoff failed",
			zap.String("handoff_id", id),
			zap.String("cause", string(types.Cause(herr))),
			zap.Error(err),
		)
		if c.onFailure != nil {
			c.onFailure(*failed, herr)
		}
		return Result{HandoffID: id, Status: StatusFailed, Error: herr}
	}

	done, terr := c.advance(id, StatusProcessing, StatusComplete, func(r *Request) { r.Response = resp })
	if terr != nil {
		return Result{HandoffID: id, Status: c.statusOf(id), Error: terr}
	}
	c.persist(ctx, done)
	c.metrics.RecordHandoff(done.TargetAgent, string(StatusComplete))
	c.logger.Info("handoff complete", zap.String("handoff_id", id))
	if c.onComplete != nil {
		c.onComplete(*done)
	}
	return Result{HandoffID: id, Success: true, Status: StatusComplete, Response: resp}
}

// CancelHandoff fails a pending handoff. Handoffs already processing cannot
// be cancelled.
func (c *Coordinator) CancelHandoff(ctx context.Context, id string) (Request, error) {
	req, err := c.advance(id, StatusPending, StatusFailed, func(r *Request) { r.Error = cancelledMessage })
	if err != nil {
		return Request{}, err
	}
	c.persist(ctx, req)
	c.metrics.RecordHandoff(req.TargetAgent, string(StatusFailed))
	c.logger.Info("handoff cancelled", zap.String("handoff_id", id))
	return *req, nil
}

// GetHandoffs returns every handoff of the session ordered by creation.
func (c *Coordinator) GetHandoffs() []Request {
	c.mu.RLock()
	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, *r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetHandoff returns one handoff.
func (c *Coordinator) GetHandoff(id string) (Request, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// Restore loads the session's handoffs from the store, replacing the
// in-memory view. Handoffs left processing by a previous process are
// failed since their delivery outcome is unknown.
func (c *Coordinator) Restore(ctx context.Context) error {
	records, err := c.store.List(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("list handoffs: %w", err)
	}

	loaded := make(map[string]*Request, len(records))
	var interrupted []*Request
	for _, rec := range records {
		var r Request
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			c.logger.Warn("skipping corrupt handoff record", zap.String("handoff_id", rec.ID), zap.Error(err))
			continue
		}
		if r.Status == StatusProcessing {
			failed := r.transition(StatusFailed, c.now().UTC())
			failed.Error = interruptedMessage
			interrupted = append(interrupted, failed)
			loaded[r.ID] = failed
			continue
		}
		loaded[r.ID] = &r
	}

	c.mu.Lock()
	c.requests = loaded
	c.mu.Unlock()

	for _, r := range interrupted {
		c.persist(ctx, r)
	}
	c.logger.Debug("handoffs restored", zap.Int("count", len(loaded)), zap.Int("interrupted", len(interrupted)))
	return nil
}

// Sweep deletes complete handoffs older than the retention period and
// returns how many were removed. Failed handoffs are kept.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.cfg.Retention)
	return c.remove(ctx, func(r *Request) bool {
		return r.Status == StatusComplete && r.Timestamp.Before(cutoff)
	})
}

// ClearFailed deletes every failed handoff.
func (c *Coordinator) ClearFailed(ctx context.Context) (int, error) {
	return c.remove(ctx, func(r *Request) bool { return r.Status == StatusFailed })
}

// Run sweeps every SweepInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.Sweep(ctx); err != nil {
				c.logger.Warn("handoff sweep failed", zap.Error(err))
			} else if n > 0 {
				c.logger.Info("swept handoffs", zap.Int("removed", n))
			}
		}
	}
}

func (c *Coordinator) remove(ctx context.Context, match func(*Request) bool) (int, error) {
	c.mu.Lock()
	var ids []string
	for id, r := range c.requests {
		if match(r) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(c.requests, id)
	}
	c.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, c.sessionID, ids...); err != nil {
		return len(ids), fmt.Errorf("delete handoffs: %w", err)
	}
	return len(ids), nil
}

// advance swaps in a copy of the record moved from one status to the next.
func (c *Coordinator) advance(id string, from, next Status, mutate func(*Request)) (*Request, *types.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.requests[id]
	if !ok {
		return nil, types.NewError(types.ErrHandoffNotFound, fmt.Sprintf("handoff %s not found", id)).
			WithHTTPStatus(http.StatusNotFound)
	}
	if cur.Status != from || !cur.Status.CanTransition(next) {
		return nil, invalidTransition(id, cur.Status, next)
	}
	updated := cur.transition(next, c.now().UTC())
	mutate(updated)
	c.requests[id] = updated
	return updated, nil
}

func (c *Coordinator) statusOf(id string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.requests[id]; ok {
		return r.Status
	}
	return ""
}

// window applies the configured filters, then bounds the result to the
// trailing MessageWindow messages.
func (c *Coordinator) window(messages []Message) []Message {
	filters := append(append([]MessageFilter(nil), c.filters...), KeepLastN(c.cfg.MessageWindow))
	return Chain(filters...)(messages)
}

// persist writes a record; store failures are logged and the in-memory
// view stays authoritative. Writes outlive cancellation of ctx.
func (c *Coordinator) persist(ctx context.Context, r *Request) {
	ctx = context.WithoutCancel(ctx)
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("failed to encode handoff", zap.String("handoff_id", r.ID), zap.Error(err))
		return
	}
	rec := persistence.Record{ID: r.ID, Data: data, UpdatedAt: r.UpdatedAt}
	if err := c.store.Put(ctx, c.sessionID, rec); err != nil {
		c.logger.Warn("failed to persist handoff", zap.String("handoff_id", r.ID), zap.Error(err))
	}
}

func invalidTransition(id string, from, to Status) *types.Error {
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("handoff %s cannot move from %s to %s", id, from, to)).WithHTTPStatus(http.StatusConflict)
}
