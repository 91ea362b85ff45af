package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// Caller performs one request/response tool call. *Client implements it.
type Caller interface {
	IsConnected() bool
	Call(ctx context.Context, name string, params any) (json.RawMessage, error)
}

// InvokerConfig configures retries, timeouts and local throttling.
type InvokerConfig struct {
	MaxRetries     int           // Retries after the first attempt (default 2)
	RetryDelay     time.Duration // Delay unit, multiplied by the attempt number (default 1s)
	Timeout        time.Duration // Per-attempt timeout (default 10s)
	MinInterval    time.Duration // Minimum spacing between accepted calls (default 200ms)
	DebounceWindow time.Duration // Quiet window for DebouncedExecute (default 300ms)
}

// DefaultInvokerConfig returns an InvokerConfig with sensible defaults.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxRetries:     2,
		RetryDelay:     time.Second,
		Timeout:        10 * time.Second,
		MinInterval:    200 * time.Millisecond,
		DebounceWindow: 300 * time.Millisecond,
	}
}

// InvokerConfigFrom maps the tools section of the application config.
func InvokerConfigFrom(cfg config.ToolsConfig) InvokerConfig {
	return InvokerConfig{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		Timeout:        cfg.Timeout,
		MinInterval:    cfg.MinInterval,
		DebounceWindow: cfg.DebounceWindow,
	}
}

// InvokerOption customises an Invoker.
type InvokerOption func(*Invoker)

// WithOnSuccess registers a callback run once per successful outcome.
func WithOnSuccess(fn func(types.ToolResult)) InvokerOption {
	return func(inv *Invoker) { inv.onSuccess = fn }
}

// WithOnError registers a callback run once per failed outcome.
func WithOnError(fn func(types.ToolResult)) InvokerOption {
	return func(inv *Invoker) { inv.onError = fn }
}

// WithInvokerMetrics records call outcomes, attempts and durations.
func WithInvokerMetrics(m *metrics.Collector) InvokerOption {
	return func(inv *Invoker) { inv.metrics = m }
}

type debounced struct {
	timer *time.Timer
	ch    chan types.ToolResult
}

// Invoker wraps calls to one named tool with mutual exclusion, a local rate
// limit, debouncing, per-attempt timeouts and bounded retries. Expected
// failures are returned as ToolResult values.
type Invoker struct {
	tool    string
	caller  Caller
	config  InvokerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Collector

	running atomic.Bool

	mu         sync.Mutex
	lastResult *types.ToolResult
	lastErr    error
	pending    *debounced
	onSuccess  func(types.ToolResult)
	onError    func(types.ToolResult)

	wait func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an invoker for tool on top of caller.
func NewInvoker(tool string, caller Caller, cfg InvokerConfig, logger *zap.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultInvokerConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaults.MinInterval
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = defaults.DebounceWindow
	}

	inv := &Invoker{
		tool:    tool,
		caller:  caller,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  logger.With(zap.String("component", "tool_invoker"), zap.String("tool", tool)),
		wait:    sleepContext,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Tool returns the wrapped tool name.
func (inv *Invoker) Tool() string {
	return inv.tool
}

// IsExecuting reports whether an attempt loop is in flight.
func (inv *Invoker) IsExecuting() bool {
	return inv.running.Load()
}

// Execute runs the tool. Checks are evaluated in order: live connection,
// no execution in flight, local rate limit; then up to MaxRetries+1
// attempts, each bounded by Timeout, waiting RetryDelay*attempt in between.
func (inv *Invoker) Execute(ctx context.Context, params any) types.ToolResult {
	if !inv.caller.IsConnected() {
		return inv.finish(types.FailureResult(inv.tool, types.NewNotConnectedError(), 0, 0))
	}
	if err := inv.validate(params); err != nil {
		return inv.finish(types.FailureResult(inv.tool, err, 0, 0))
	}
	if !inv.running.CompareAndSwap(false, true) {
		err := types.NewError(types.ErrExecutionInProgress, "execution already in progress")
		return inv.finish(types.FailureResult(inv.tool, err, 0, 0))
	}
	if !inv.limiter.Allow() {
		inv.running.Store(false)
		err := types.NewRateLimitedError(fmt.Sprintf("tool %s called again within %s", inv.tool, inv.config.MinInterval))
		return inv.finish(types.FailureResult(inv.tool, err, 0, 0))
	}

	result := inv.attemptLoop(ctx, params)
	inv.running.Store(false)
	return inv.finish(result)
}

// DebouncedExecute delays Execute until window passes without another
// debounced call. Every caller receives exactly one result; callers
// superseded by a newer call receive a DEBOUNCED failure.
func (inv *Invoker) DebouncedExecute(ctx context.Context, params any, window time.Duration) <-chan types.ToolResult {
	if window <= 0 {
		window = inv.config.DebounceWindow
	}
	ch := make(chan types.ToolResult, 1)
	d := &debounced{ch: ch}

	inv.mu.Lock()
	if prev := inv.pending; prev != nil && prev.timer.Stop() {
		prev.ch <- types.FailureResult(inv.tool,
			types.NewError(types.ErrDebounced, "superseded by a newer call"), 0, 0)
	}
	inv.pending = d
	d.timer = time.AfterFunc(window, func() {
		inv.mu.Lock()
		if inv.pending == d {
			inv.pending = nil
		}
		inv.mu.Unlock()

		if err := ctx.Err(); err != nil {
			ch <- inv.finish(types.FailureResult(inv.tool, types.NewError(types.ErrTimeout, "cancelled while debounced").WithCause(err), 0, 0))
			return
		}
		ch <- inv.Execute(ctx, params)
	})
	inv.mu.Unlock()
	return ch
}

// LastResult returns the most recent terminal outcome.
func (inv *Invoker) LastResult() (types.ToolResult, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.lastResult == nil {
		return types.ToolResult{}, false
	}
	return *inv.lastResult, true
}

// LastError returns the error of the most recent failed outcome, or nil
// when the most recent outcome succeeded.
func (inv *Invoker) LastError() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.lastErr
}

func (inv *Invoker) validate(params any) *types.Error {
	p, ok := params.(ToolParams)
	if !ok {
		return nil
	}
	if string(p.Tool()) != inv.tool {
		return types.NewInvalidRequestError(fmt.Sprintf("params for %s passed to %s", p.Tool(), inv.tool))
	}
	if err := p.Validate(); err != nil {
		if e, ok := types.AsError(err); ok {
			return e
		}
		return types.NewInvalidRequestError(err.Error())
	}
	return nil
}

func (inv *Invoker) attemptLoop(ctx context.Context, params any) types.ToolResult {
	start := time.Now()
	maxAttempts := inv.config.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := inv.attempt(ctx, params)
		if err == nil {
			if attempt > 1 {
				inv.logger.Info("tool succeeded after retry", zap.Int("attempt", attempt))
			}
			return types.SuccessResult(inv.tool, data, attempt, time.Since(start))
		}
		lastErr = err
		inv.logger.Warn("tool attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if attempt == maxAttempts || ctx.Err() != nil {
			return types.FailureResult(inv.tool, types.NewToolExecutionError(inv.tool, attempt, lastErr), attempt, time.Since(start))
		}
		if err := inv.wait(ctx, inv.config.RetryDelay*time.Duration(attempt)); err != nil {
			return types.FailureResult(inv.tool, types.NewToolExecutionError(inv.tool, attempt, lastErr), attempt, time.Since(start))
		}
	}
	return types.FailureResult(inv.tool, types.NewToolExecutionError(inv.tool, maxAttempts, lastErr), maxAttempts, time.Since(start))
}

func (inv *Invoker) attempt(ctx context.Context, params any) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, inv.config.Timeout)
	defer cancel()

	data, err := inv.caller.Call(attemptCtx, inv.tool, params)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !types.IsErrorCode(err, types.ErrTimeout) {
		return nil, types.NewError(types.ErrTimeout, fmt.Sprintf("attempt exceeded %s", inv.config.Timeout)).
			WithCause(err).
			WithRetryable(true)
	}
	return data, err
}

// finish records a terminal outcome and runs the matching callback once.
func (inv *Invoker) finish(result types.ToolResult) types.ToolResult {
	inv.mu.Lock()
	inv.lastResult = &result
	inv.lastErr = nil
	if !result.Success && result.Error != nil {
		inv.lastErr = result.Error
	}
	onSuccess, onError := inv.onSuccess, inv.onError
	inv.mu.Unlock()

	outcome := "success"
	if !result.Success && result.Error != nil {
		outcome = strings.ToLower(string(result.Error.Code))
	}
	inv.metrics.RecordToolCall(inv.tool, outcome, result.Attempts, result.Duration)

	if result.Success {
		if onSuccess != nil {
			onSuccess(result)
		}
	} else if onError != nil {
		onError(result)
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
