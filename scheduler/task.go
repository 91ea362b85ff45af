package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// ScheduleType says whether a task runs once or repeats.
type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
)

// TaskStatus is the lifecycle status of a scheduled task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// dueStatuses are the statuses a task may be claimed from.
var dueStatuses = []TaskStatus{TaskPending, TaskActive}

// Execution log outcomes.
const (
	ExecutionDispatched = "dispatched"
	ExecutionFailed     = "failed"
)

var (
	// ErrTaskNotFound is returned when no task has the requested id.
	ErrTaskNotFound = errors.New("scheduled task not found")
	// ErrClaimLost is returned when a claimed task was released by someone
	// else before its outcome was recorded.
	ErrClaimLost = errors.New("scheduled task claim lost")
)

// SensitiveValue is one secret substituted into a task body.
type SensitiveValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TaskConfig is the JSON configuration stored with a task.
type TaskConfig struct {
	SensitiveData   []SensitiveValue `json:"sensitiveData,omitempty"`
	SaveBrowserData *bool            `json:"saveBrowserData,omitempty"`
}

// saveBrowserData defaults to true when unset.
func (c TaskConfig) saveBrowserData() bool {
	return c.SaveBrowserData == nil || *c.SaveBrowserData
}

// Task is a row of the scheduled_tasks table.
type Task struct {
	ID             string       `gorm:"column:id;primaryKey" json:"id"`
	UserID         string       `gorm:"column:user_id" json:"userId"`
	TaskBody       string       `gorm:"column:task_body" json:"taskBody"`
	Config         TaskConfig   `gorm:"column:config;type:text;serializer:json" json:"config"`
	ScheduleType   ScheduleType `gorm:"column:schedule_type" json:"scheduleType"`
	ScheduledTime  time.Time    `gorm:"column:scheduled_time" json:"scheduledTime"`
	RepeatInterval string       `gorm:"column:repeat_interval" json:"repeatInterval,omitempty"`
	LastRunAt      *time.Time   `gorm:"column:last_run_at" json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time   `gorm:"column:next_run_at" json:"nextRunAt,omitempty"`
	ClaimedAt      *time.Time   `gorm:"column:claimed_at" json:"claimedAt,omitempty"`
	Status         TaskStatus   `gorm:"column:status" json:"status"`
	CreatedAt      time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName implements gorm's tabler.
func (Task) TableName() string {
	return "scheduled_tasks"
}

// Validate checks a task before it is stored.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.TaskBody) == "" {
		return types.NewInvalidRequestError("task body is required")
	}
	if t.ScheduledTime.IsZero() {
		return types.NewInvalidRequestError("scheduled time is required")
	}
	switch t.ScheduleType {
	case ScheduleOnce:
	case ScheduleRecurring:
		if _, err := ParseInterval(t.RepeatInterval); err != nil {
			return types.NewInvalidRequestError(err.Error())
		}
	default:
		return types.NewInvalidRequestError(fmt.Sprintf("unknown schedule type %q", t.ScheduleType))
	}
	for _, sv := range t.Config.SensitiveData {
		if sv.Key == "" {
			return types.NewInvalidRequestError("sensitive data key is required")
		}
	}
	return nil
}

// ExecutionLog is an immutable row of the execution_logs table.
type ExecutionLog struct {
	ID                    string    `gorm:"column:id;primaryKey" json:"id"`
	ScheduledTaskID       string    `gorm:"column:scheduled_task_id" json:"scheduledTaskId"`
	DispatchedExecutionID string    `gorm:"column:dispatched_execution_id" json:"dispatchedExecutionId,omitempty"`
	Status                string    `gorm:"column:status" json:"status"`
	Error                 string    `gorm:"column:error" json:"error,omitempty"`
	ExecutedAt            time.Time `gorm:"column:executed_at" json:"executedAt"`
}

// TableName implements gorm's tabler.
func (ExecutionLog) TableName() string {
	return "execution_logs"
}
