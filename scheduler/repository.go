package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvndrmann/mannmediaagency-sub005/internal/database"
)

// Repository stores scheduled tasks and their execution log. Claiming is a
// single conditional UPDATE per task, so overlapping ticks never dispatch
// the same task twice.
type Repository struct {
	db         *gorm.DB
	maxRetries int
	logger     *zap.Logger
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		db:         db,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "scheduler_repository")),
	}
}

// =============================================================================
// 任务增删查
// =============================================================================

// Create validates and inserts a task. Missing id, status and timestamps
// are filled in.
func (r *Repository) Create(ctx context.Context, task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	task.ScheduledTime = task.ScheduledTime.UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// Get returns one task.
func (r *Repository) Get(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scheduled task %s: %w", id, err)
	}
	return &task, nil
}

// Logs returns the execution log of a task, oldest first.
func (r *Repository) Logs(ctx context.Context, taskID string) ([]ExecutionLog, error) {
	var logs []ExecutionLog
	err := r.db.WithContext(ctx).
		Where("scheduled_task_id = ?", taskID).
		Order("executed_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("load execution logs for %s: %w", taskID, err)
	}
	return logs, nil
}

// =============================================================================
// 认领与结算
// =============================================================================

// ListDue returns up to limit tasks that are due at now, earliest first.
// The result is only a candidate list; each task must still be claimed.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	var tasks []Task
	q := r.db.WithContext(ctx).
		Where("status IN ? AND scheduled_time <= ?", dueStatuses, now.UTC()).
		Order("scheduled_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return tasks, nil
}

// Claim flips one due task to running. It reports false when another
// scheduler claimed it first or it is no longer due.
func (r *Repository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND status IN ? AND scheduled_time <= ?", id, dueStatuses, now).
		Updates(map[string]any{
			"status":     TaskRunning,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim task %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimDue lists due tasks and claims each one. It returns the claimed tasks
// and the number of candidates lost to a concurrent claimer.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, int, error) {
	candidates, err := r.ListDue(ctx, now, limit)
	if err != nil {
		return nil, 0, err
	}

	claimed := make([]Task, 0, len(candidates))
	conflicts := 0
	for _, task := range candidates {
		ok, err := r.Claim(ctx, task.ID, now)
		if err != nil {
			return claimed, conflicts, err
		}
		if !ok {
			conflicts++
			r.logger.Debug("task claimed elsewhere", zap.String("task_id", task.ID))
			continue
		}
		claimedAt := now.UTC()
		task.Status = TaskRunning
		task.ClaimedAt = &claimedAt
		claimed = append(claimed, task)
	}
	return claimed, conflicts, nil
}

// Finish records the outcome of a claimed task and appends its execution
// log entry in one transaction.
func (r *Repository) Finish(ctx context.Context, task *Task, entry *ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.ScheduledTaskID = task.ID
	entry.ExecutedAt = entry.ExecutedAt.UTC()

	return database.RunInTransaction(ctx, r.db, r.maxRetries, r.logger, func(tx *gorm.DB) error {
		res := tx.Model(&Task{}).
			Where("id = ? AND status = ?", task.ID, TaskRunning).
			Updates(map[string]any{
				"status":         task.Status,
				"scheduled_time": task.ScheduledTime.UTC(),
				"last_run_at":    utcPtr(task.LastRunAt),
				"next_run_at":    utcPtr(task.NextRunAt),
				"claimed_at":     nil,
				"updated_at":     entry.ExecutedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("finish task %s: %w", task.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrClaimLost
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("append execution log for %s: %w", task.ID, err)
		}
		return nil
	})
}

// RecoverStale returns tasks claimed before cutoff to a due status. Such
// claims belong to a tick that crashed before recording an outcome.
func (r *Repository) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var recovered int64
	for _, st := range []struct {
		scheduleType ScheduleType
		status       TaskStatus
	}{
		{ScheduleOnce, TaskPending},
		{ScheduleRecurring, TaskActive},
	} {
		res := r.db.WithContext(ctx).
			Model(&Task{}).
			Where("status = ? AND schedule_type = ? AND claimed_at < ?", TaskRunning, st.scheduleType, cutoff).
			Updates(map[string]any{
				"status":     st.status,
				"claimed_at": nil,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return recovered, fmt.Errorf("recover stale claims: %w", res.Error)
		}
		recovered += res.RowsAffected
	}
	if recovered > 0 {
		r.logger.Warn("recovered stale task claims", zap.Int64("count", recovered))
	}
	return recovered, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
