package scheduler

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/telemetry"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// Config controls one scheduler.
type Config struct {
	BatchSize               int
	Concurrency             int
	DispatchTimeout         time.Duration
	StaleClaimTimeout       time.Duration
	CreditCheckEnabled      bool
	CreditCost              float64
	RetryRecurringOnFailure bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultSchedulerConfig())
}

// ConfigFrom converts the application scheduler configuration.
func ConfigFrom(cfg config.SchedulerConfig) Config {
	c := Config{
		BatchSize:               cfg.BatchSize,
		Concurrency:             cfg.Concurrency,
		DispatchTimeout:         cfg.DispatchTimeout,
		StaleClaimTimeout:       cfg.StaleClaimTimeout,
		CreditCheckEnabled:      cfg.CreditCheckEnabled,
		CreditCost:              cfg.CreditCost,
		RetryRecurringOnFailure: cfg.RetryRecurringOnFailure,
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.CreditCost <= 0 {
		c.CreditCost = 1
	}
	return c
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCredits enables the credit check and deduction around dispatch.
func WithCredits(ledger CreditLedger) Option {
	return func(s *Scheduler) { s.credits = ledger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// TaskOutcome is the result of processing one claimed task.
type TaskOutcome struct {
	TaskID       string       `json:"taskId"`
	ScheduleType ScheduleType `json:"scheduleType"`
	Status       TaskStatus   `json:"status"`
	ExecutionID  string       `json:"executionId,omitempty"`
	NextRunAt    *time.Time   `json:"nextRunAt,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// TickReport summarises one tick.
type TickReport struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Recovered  int64         `json:"recovered"`
	Claimed    int           `json:"claimed"`
	Conflicts  int           `json:"conflicts"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Results    []TaskOutcome `json:"results"`
}

// Scheduler dispatches due scheduled tasks. It keeps no state between
// ticks; everything lives in the repository.
type Scheduler struct {
	repo       *Repository
	dispatcher Dispatcher
	credits    CreditLedger
	cfg        Config
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a scheduler.
func New(repo *Repository, dispatcher Dispatcher, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		tracer:     telemetry.Tracer("scheduler"),
		logger:     logger.With(zap.String("component", "scheduler")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick claims the due tasks, dispatches them and records each outcome.
// Dispatch failures are reported per task; the returned error is reserved
// for repository failures.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	start := s.now().UTC()
	report := TickReport{StartedAt: start, Results: []TaskOutcome{}}

	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	if s.cfg.StaleClaimTimeout > 0 {
		recovered, err := s.repo.RecoverStale(ctx, start.Add(-s.cfg.StaleClaimTimeout))
		if err != nil {
			s.logger.Warn("stale claim recovery failed", zap.Error(err))
		}
		report.Recovered = recovered
	}

	claimed, conflicts, claimErr := s.repo.ClaimDue(ctx, start, s.cfg.BatchSize)
	report.Claimed = len(claimed)
	report.Conflicts = conflicts

	results := make([]TaskOutcome, len(claimed))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range claimed {
		task := claimed[i]
		g.Go(func() error {
			results[i] = s.run(ctx, &task, start)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Error != "" {
			report.Failed++
		} else {
			report.Dispatched++
		}
	}
	report.Results = append(report.Results, results...)
	report.Duration = s.now().Sub(start)
	s.metrics.RecordSchedulerTick(report.Duration, conflicts)

	span.SetAttributes(
		attribute.Int("scheduler.claimed", report.Claimed),
		attribute.Int("scheduler.conflicts", report.Conflicts),
		attribute.Int("scheduler.failed", report.Failed),
	)
	if claimErr != nil {
		span.RecordError(claimErr)
		span.SetStatus(codes.Error, claimErr.Error())
		return report, claimErr
	}

	if report.Claimed > 0 || report.Conflicts > 0 {
		s.logger.Info("scheduler tick finished",
			zap.Int("claimed", report.Claimed),
			zap.Int("dispatched", report.Dispatched),
			zap.Int("failed", report.Failed),
			zap.Int("conflicts", report.Conflicts),
			zap.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// run processes one claimed task. The outcome is always recorded, even
// when ctx is cancelled mid-dispatch.
func (s *Scheduler) run(ctx context.Context, task *Task, now time.Time) TaskOutcome {
	outcome := TaskOutcome{TaskID: task.ID, ScheduleType: task.ScheduleType}
	entry := &ExecutionLog{ExecutedAt: now}

	execID, err := s.execute(ctx, task)
	if err != nil {
		s.markFailed(task, now)
		entry.Status = ExecutionFailed
		entry.Error = err.Error()
		outcome.Error = err.Error()
		s.logger.Warn("scheduled task failed",
			zap.String("task_id", task.ID),
			zap.String("cause", string(types.Cause(err))),
			zap.Error(err),
		)
	} else {
		s.markSucceeded(task, now)
		entry.Status = ExecutionDispatched
		entry.DispatchedExecutionID = execID
		outcome.ExecutionID = execID
	}
	outcome.Status = task.Status
	outcome.NextRunAt = task.NextRunAt

	if ferr := s.repo.Finish(context.WithoutCancel(ctx), task, entry); ferr != nil {
		s.logger.Error("failed to record task outcome", zap.String("task_id", task.ID), zap.Error(ferr))
		if outcome.Error == "" {
			outcome.Error = ferr.Error()
		}
	}

	result := "dispatched"
	if outcome.Error != "" {
		result = "failed"
	}
	s.metrics.RecordScheduledTask(string(task.ScheduleType), result)
	return outcome
}

// execute checks credits, substitutes secrets and dispatches the task.
func (s *Scheduler) execute(ctx context.Context, task *Task) (string, error) {
	if task.ScheduleType == ScheduleRecurring {
		if _, err := ParseInterval(task.RepeatInterval); err != nil {
			return "", types.NewSchedulerDispatchError(task.ID, err)
		}
	}

	checkCredits := s.credits != nil && s.cfg.CreditCheckEnabled
	if checkCredits {
		balance, err := s.credits.Balance(ctx, task.UserID)
		if err != nil {
			return "", types.NewSchedulerDispatchError(task.ID, err)
		}
		if balance < s.cfg.CreditCost {
			return "", types.NewError(types.ErrInsufficientCredits, "insufficient credits").
				WithHTTPStatus(http.StatusPaymentRequired)
		}
	}

	req := DispatchRequest{
		Task:            Substitute(task.TaskBody, task.Config.SensitiveData),
		ScheduledTaskID: task.ID,
		UserID:          task.UserID,
		SaveBrowserData: task.Config.saveBrowserData(),
	}
	if len(task.Config.SensitiveData) > 0 {
		req.SensitiveData = make(map[string]string, len(task.Config.SensitiveData))
		for _, sv := range task.Config.SensitiveData {
			req.SensitiveData[sv.Key] = sv.Value
		}
	}

	dctx := ctx
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}
	execID, err := s.dispatcher.Dispatch(dctx, req)
	if err != nil {
		return "", types.NewSchedulerDispatchError(task.ID, err).WithRetryable(types.IsRetryable(err))
	}

	if checkCredits {
		if err := s.credits.Deduct(context.WithoutCancel(ctx), task.UserID, s.cfg.CreditCost); err != nil {
			s.logger.Warn("credit deduction failed", zap.String("user_id", task.UserID), zap.Error(err))
		}
	}
	return execID, nil
}

func (s *Scheduler) markSucceeded(task *Task, now time.Time) {
	task.LastRunAt = &now
	if task.ScheduleType != ScheduleRecurring {
		task.Status = TaskCompleted
		task.NextRunAt = nil
		return
	}
	s.reschedule(task, now)
}

func (s *Scheduler) markFailed(task *Task, now time.Time) {
	task.LastRunAt = &now
	if task.ScheduleType == ScheduleRecurring && s.cfg.RetryRecurringOnFailure {
		if _, err := ParseInterval(task.RepeatInterval); err == nil {
			s.reschedule(task, now)
			return
		}
	}
	task.Status = TaskFailed
	task.NextRunAt = nil
}

// reschedule moves a recurring task to its next occurrence after now.
func (s *Scheduler) reschedule(task *Task, now time.Time) {
	iv, err := ParseInterval(task.RepeatInterval)
	if err != nil {
		task.Status = TaskFailed
		task.NextRunAt = nil
		return
	}
	next := iv.NextRun(task.ScheduledTime.UTC(), now)
	task.ScheduledTime = next
	task.NextRunAt = &next
	task.Status = TaskActive
}
