package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/persistence"
	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// recordingOrchestrator captures transfers and answers with fn.
type recordingOrchestrator struct {
	mu    sync.Mutex
	calls []TransferRequest
	fn    func(TransferRequest) (json.RawMessage, error)
}

func (o *recordingOrchestrator) Transfer(_ context.Context, req TransferRequest) (json.RawMessage, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	o.mu.Unlock()
	if o.fn != nil {
		return o.fn(req)
	}
	return json.RawMessage(`{"accepted":true}`), nil
}

func (o *recordingOrchestrator) Calls() []TransferRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]TransferRequest(nil), o.calls...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T, store persistence.SessionStore, orch Orchestrator, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	return NewCoordinator("session-1", store, orch, DefaultCoordinatorConfig(), zap.NewNop(), opts...)
}

func messages(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}
	}
	return out
}

func TestCoordinator_RequestHandoff_Pending(t *testing.T) {
	store := persistence.NewMemorySessionStore()
	c := newTestCoordinator(t, store, &recordingOrchestrator{})

	req, err := c.RequestHandoff(context.Background(), "main", "script", "needs a script", map[string]any{"projectId": "p1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "session-1", req.SessionID)
	assert.NotEmpty(t, req.ID)

	got, ok := c.GetHandoff(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)

	// persisted under the session id
	rec, err := store.Get(context.Background(), "session-1", req.ID)
	require.NoError(t, err)
	var stored Request
	require.NoError(t, json.Unmarshal(rec.Data, &stored))
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, "p1", stored.Context["projectId"])
}

func TestCoordinator_RequestHandoff_Validation(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	_, err := c.RequestHandoff(context.Background(), "", "script", "", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestCoordinator_ProcessHandoff_Success(t *testing.T) {
	orch := &recordingOrchestrator{}
	var completed, failed atomic.Int32
	c := newTestCoordinator(t, nil, orch,
		WithOnComplete(func(r Request) {
			assert.Equal(t, StatusComplete, r.Status)
			completed.Add(1)
		}),
		WithOnFailure(func(Request, *types.Error) { failed.Add(1) }),
	)
	ctx := context.Background()

	req, err := c.RequestHandoff(ctx, "main", "script", "write it", nil)
	require.NoError(t, err)

	res := c.ProcessHandoff(ctx, req.ID, messages(25))
	require.True(t, res.Success)
	assert.Equal(t, StatusComplete, res.Status)
	assert.JSONEq(t, `{"accepted":true}`, string(res.Response))
	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, int32(0), failed.Load())

	calls := orch.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "transfer_to_script_agent", calls[0].ToolName)
	require.Len(t, calls[0].Messages, 10)
	assert.Equal(t, "m15", calls[0].Messages[0].Content)
	assert.Equal(t, "m24", calls[0].Messages[9].Content)

	got, _ := c.GetHandoff(req.ID)
	assert.Equal(t, StatusComplete, got.Status)
	assert.JSONEq(t, `{"accepted":true}`, string(got.Response))
}

func TestCoordinator_ProcessHandoff_Failure(t *testing.T) {
	orch := &recordingOrchestrator{fn: func(TransferRequest) (json.RawMessage, error) {
		return nil, types.NewConnectionError("unreachable", errors.New("refused"))
	}}
	var failures []*types.Error
	c := newTestCoordinator(t, nil, orch,
		WithOnFailure(func(r Request, err *types.Error) {
			assert.Equal(t, StatusFailed, r.Status)
			failures = append(failures, err)
		}),
	)
	ctx := context.Background()

	req, _ := c.RequestHandoff(ctx, "main", "image", "", nil)
	res := c.ProcessHandoff(ctx, req.ID, nil)

	assert.False(t, res.Success)
	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.ErrHandoff, res.Error.Code)
	assert.Equal(t, types.ErrNetwork, types.Cause(res.Error))
	require.Len(t, failures, 1)

	got, _ := c.GetHandoff(req.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	// a settled handoff is never reprocessed
	again := c.ProcessHandoff(ctx, req.ID, nil)
	assert.Equal(t, types.ErrInvalidTransition, again.Error.Code)
	assert.Equal(t, StatusFailed, again.Status)
	assert.Len(t, failures, 1)
	assert.Len(t, orch.Calls(), 1)
}

func TestCoordinator_ProcessHandoff_NotFound(t *testing.T) {
	c := newTestCoordinator(t, nil, &recordingOrchestrator{})
	res := c.ProcessHandoff(context.Background(), "missing", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.ErrHandoffNotFound, res.Error.Code)
}

func TestCoordinator_ProcessHandoff_NoOrchestrator(t *testing.T) {
	c := newTestCoordinator(t, nil, nil)
	req, _ := c.RequestHandoff(context.Background(), "main", "tool", "", nil)
	res := c.ProcessHandoff(context.Background(), req.ID, nil)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestCoordinator_ProcessHandoff_ConcurrentCallsDeliverOnce(t *testing.T) {
	release := make(chan struct{})
	orch := &recordingOrchestrator{fn: func(TransferRequest) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	}}
	var completed atomic.Int32
	c := newTestCoordinator(t, nil, orch, WithOnComplete(func(Request) { completed.Add(1) }))
	req, _ := c.RequestHandoff(context.Background(), "main", "scene", "", nil)

	const callers = 8
	results := make(chan Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.ProcessHandoff(context.Background(), req.ID, nil)
		}()
	}

	require.Eventually(t, func() bool { return len(orch.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	successes := 0
	for r := range results {
		if r.Success {
			successes++
		} else {
			// callers arriving after settlement see the terminal status
			assert.Equal(t, types.ErrInvalidTransition, r.Error.Code)
		}
	}
	assert.GreaterOrEqual(t, successes, 1)
	assert.Len(t, orch.Calls(), 1)
	assert.Equal(t, int32(1), completed.Load())
}

func TestCoordinator_CancelHandoff(t *testing.T) {
	orch := &recordingOrchestrator{}
	c := newTestCoordinator(t, nil, orch)
	ctx := context.Background()

	req, _ := c.RequestHandoff(ctx, "main", "data", "", nil)
	cancelled, err := c.CancelHandoff(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cancelled.Status)
	assert.Equal(t, "handoff cancelled", cancelled.Error)

	res := c.ProcessHandoff(ctx, req.ID, nil)
	assert.Equal(t, types.ErrInvalidTransition, res.Error.Code)
	assert.Empty(t, orch.Calls())

	_, err = c.CancelHandoff(ctx, req.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))

	_, err = c.CancelHandoff(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrHandoffNotFound))
}

func TestCoordinator_Filters(t *testing.T) {
	orch := &recordingOrchestrator{}
	c := newTestCoordinator(t, nil, orch, WithFilters(
		RemoveToolMessages(),
		WithSystemContext("project p1"),
	))
	ctx := context.Background()
	req, _ := c.RequestHandoff(ctx, "main", "script", "", nil)

	msgs := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolName: "generate_scene_image"},
		{Role: RoleTool, Content: "{}"},
		{Role: RoleAssistant, Content: "done"},
	}
	c.ProcessHandoff(ctx, req.ID, msgs)

	calls := orch.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "project p1"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "done"},
	}, calls[0].Messages)
}

func TestFiltersFrom(t *testing.T) {
	assert.Empty(t, FiltersFrom(config.HandoffConfig{}))

	cfg := config.HandoffConfig{MessageWindow: 3, DropToolMessages: true, SystemContext: "project p1"}
	orch := &recordingOrchestrator{}
	c := NewCoordinator("session-1", nil, orch, CoordinatorConfigFrom(cfg), zap.NewNop(), WithFilters(FiltersFrom(cfg)...))
	ctx := context.Background()
	req, _ := c.RequestHandoff(ctx, "main", "script", "", nil)

	msgs := append(messages(4), Message{Role: RoleTool, Content: "{}"})
	c.ProcessHandoff(ctx, req.ID, msgs)

	calls := orch.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "project p1"},
		{Role: RoleUser, Content: "m2"},
		{Role: RoleUser, Content: "m3"},
	}, calls[0].Messages)
}

func TestCoordinator_SweepAndClearFailed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	store := persistence.NewMemorySessionStore()
	orch := &recordingOrchestrator{fn: func(r TransferRequest) (json.RawMessage, error) {
		if r.TargetAgent == "bad" {
			return nil, errors.New("rejected")
		}
		return nil, nil
	}}
	c := newTestCoordinator(t, store, orch, WithClock(clock.Now))
	ctx := context.Background()

	old, _ := c.RequestHandoff(ctx, "main", "script", "", nil)
	c.ProcessHandoff(ctx, old.ID, nil)
	oldFailed, _ := c.RequestHandoff(ctx, "main", "bad", "", nil)
	c.ProcessHandoff(ctx, oldFailed.ID, nil)
	oldPending, _ := c.RequestHandoff(ctx, "main", "image", "", nil)

	clock.Advance(23 * time.Hour)
	recent, _ := c.RequestHandoff(ctx, "main", "scene", "", nil)
	c.ProcessHandoff(ctx, recent.ID, nil)

	clock.Advance(2 * time.Hour)
	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.GetHandoff(old.ID)
	assert.False(t, ok, "complete handoff past retention is swept")
	_, ok = c.GetHandoff(recent.ID)
	assert.True(t, ok, "recent complete handoff is kept")
	_, ok = c.GetHandoff(oldFailed.ID)
	assert.True(t, ok, "failed handoffs are kept")
	_, ok = c.GetHandoff(oldPending.ID)
	assert.True(t, ok, "pending handoffs are kept")

	_, err = store.Get(ctx, "session-1", old.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	cleared, err := c.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.Len(t, c.GetHandoffs(), 2)
}

func TestCoordinator_RestoreFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewFileSessionStore(persistence.StoreConfig{
		Type:      persistence.StoreTypeFile,
		Namespace: "handoff",
		BaseDir:   t.TempDir(),
	})
	require.NoError(t, err)

	first := newTestCoordinator(t, store, &recordingOrchestrator{})
	done, _ := first.RequestHandoff(ctx, "main", "script", "", nil)
	first.ProcessHandoff(ctx, done.ID, nil)
	pending, _ := first.RequestHandoff(ctx, "main", "image", "", nil)

	// simulate a crash mid-delivery
	stuck := Request{ID: "stuck", SessionID: "session-1", FromAgent: "main", TargetAgent: "scene",
		Status: StatusProcessing, Timestamp: time.Now().UTC()}
	data, _ := json.Marshal(stuck)
	require.NoError(t, store.Put(ctx, "session-1", persistence.Record{ID: "stuck", Data: data}))

	second := newTestCoordinator(t, store, &recordingOrchestrator{})
	require.NoError(t, second.Restore(ctx))

	handoffs := second.GetHandoffs()
	require.Len(t, handoffs, 3)

	got, _ := second.GetHandoff(done.ID)
	assert.Equal(t, StatusComplete, got.Status)
	got, _ = second.GetHandoff(pending.ID)
	assert.Equal(t, StatusPending, got.Status)
	got, _ = second.GetHandoff("stuck")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, interruptedMessage, got.Error)

	// the interrupted record is persisted as failed
	rec, err := store.Get(ctx, "session-1", "stuck")
	require.NoError(t, err)
	var stored Request
	require.NoError(t, json.Unmarshal(rec.Data, &stored))
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestCoordinator_ReadersSeeWholeRecords(t *testing.T) {
	orch := &recordingOrchestrator{}
	c := newTestCoordinator(t, nil, orch)
	ctx := context.Background()
	req, _ := c.RequestHandoff(ctx, "main", "script", "", map[string]any{"k": "v"})

	before, _ := c.GetHandoff(req.ID)
	c.ProcessHandoff(ctx, req.ID, nil)

	// earlier snapshots are unaffected by later transitions
	assert.Equal(t, StatusPending, before.Status)
	assert.Empty(t, before.Response)
}

func TestCoordinatorConfigFrom(t *testing.T) {
	cfg := CoordinatorConfigFrom(config.HandoffConfig{MessageWindow: 5})
	assert.Equal(t, 5, cfg.MessageWindow)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}

// Status never regresses whatever sequence of operations is applied.
func TestCoordinator_StatusMonotonicProperty(t *testing.T) {
	rank := map[Status]int{StatusPending: 0, StatusProcessing: 1, StatusComplete: 2, StatusFailed: 2}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("handoff status is monotonic", prop.ForAll(
		func(ops []int) bool {
			fail := false
			orch := OrchestratorFunc(func(context.Context, TransferRequest) (json.RawMessage, error) {
				if fail {
					return nil, errors.New("boom")
				}
				return nil, nil
			})
			c := NewCoordinator("prop", nil, orch, DefaultCoordinatorConfig(), zap.NewNop())
			ctx := context.Background()
			req, err := c.RequestHandoff(ctx, "a", "b", "", nil)
			if err != nil {
				return false
			}

			prev := StatusPending
			for _, op := range ops {
				switch op {
				case 0:
					fail = false
					c.ProcessHandoff(ctx, req.ID, nil)
				case 1:
					fail = true
					c.ProcessHandoff(ctx, req.ID, nil)
				default:
					_, _ = c.CancelHandoff(ctx, req.ID)
				}
				cur, _ := c.GetHandoff(req.ID)
				if rank[cur.Status] < rank[prev] {
					return false
				}
				if prev.IsTerminal() && cur.Status != prev {
					return false
				}
				prev = cur.Status
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
