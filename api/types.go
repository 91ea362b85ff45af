package api

import (
	"encoding/json"
	"time"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/handoff"
	"github.com/rvndrmann/mannmediaagency-sub005/scheduler"
)

// =============================================================================
// 工作流请求类型
// =============================================================================

// StartWorkflowRequest 启动工作流（可选自定义阶段流水线）
// @Description 启动工作流请求
type StartWorkflowRequest struct {
	// 有序阶段列表，为空时使用默认的媒体制作流水线
	Stages []string `json:"stages,omitempty" example:"order_received,packing,shipping"`
}

// StageUpdateRequest 更新单个阶段状态
// @Description 阶段状态更新请求
type StageUpdateRequest struct {
	// 阶段状态: pending, in_progress, completed, failed
	Status string `json:"status" example:"completed" binding:"required"`
	// 阶段产出（任意 JSON）
	Result json.RawMessage `json:"result,omitempty"`
}

// SceneUpdateRequest 更新单个场景状态
// @Description 场景状态更新请求
type SceneUpdateRequest struct {
	// 场景状态
	Status string `json:"status" example:"completed" binding:"required"`
	// 场景数据（任意 JSON）
	Data json.RawMessage `json:"data,omitempty"`
}

// FailWorkflowRequest 将工作流标记为失败
type FailWorkflowRequest struct {
	// 失败原因
	Message string `json:"message"`
}

// =============================================================================
// 交接请求类型
// =============================================================================

// CreateHandoffRequest 创建交接
// @Description 交接创建请求
type CreateHandoffRequest struct {
	// 发起方 Agent
	FromAgent string `json:"fromAgent" example:"script-writer" binding:"required"`
	// 接收方 Agent
	TargetAgent string `json:"targetAgent" example:"image-director" binding:"required"`
	// 交接原因
	Reason string `json:"reason,omitempty"`
	// 附加上下文
	Context map[string]any `json:"context,omitempty"`
}

// ProcessHandoffRequest 执行交接
type ProcessHandoffRequest struct {
	// 会话消息，仅最近窗口内的消息会发送到远端
	Messages []handoff.Message `json:"messages"`
}

// ClearFailedResponse 清理失败交接的结果
type ClearFailedResponse struct {
	Removed int `json:"removed"`
}

// =============================================================================
// 定时任务请求类型
// =============================================================================

// CreateTaskRequest 创建定时任务
// @Description 定时任务创建请求
type CreateTaskRequest struct {
	// 所属用户
	UserID string `json:"userId,omitempty"`
	// 任务正文，可包含 {key} 占位符
	TaskBody string `json:"taskBody" binding:"required"`
	// 调度类型: once, recurring
	ScheduleType string `json:"scheduleType" example:"once" binding:"required"`
	// 首次执行时间
	ScheduledTime time.Time `json:"scheduledTime" binding:"required"`
	// 重复周期，例如 "1 week"
	RepeatInterval string `json:"repeatInterval,omitempty" example:"1 week"`
	// 执行配置
	Config scheduler.TaskConfig `json:"config"`
}

// Task 将请求转换为调度任务
func (r CreateTaskRequest) Task() scheduler.Task {
	return scheduler.Task{
		UserID:         r.UserID,
		TaskBody:       r.TaskBody,
		ScheduleType:   scheduler.ScheduleType(r.ScheduleType),
		ScheduledTime:  r.ScheduledTime,
		RepeatInterval: r.RepeatInterval,
		Config:         r.Config,
	}
}
