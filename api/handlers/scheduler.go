package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/api"
	"github.com/rvndrmann/mannmediaagency-sub005/scheduler"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// =============================================================================
// ⏰ 定时任务 Handler
// =============================================================================

// SchedulerHandler 定时任务处理器
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	repo      *scheduler.Repository
	logger    *zap.Logger
}

// NewSchedulerHandler 创建定时任务处理器
func NewSchedulerHandler(s *scheduler.Scheduler, repo *scheduler.Repository, logger *zap.Logger) *SchedulerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerHandler{
		scheduler: s,
		repo:      repo,
		logger:    logger.With(zap.String("handler", "scheduler")),
	}
}

// Register 注册定时任务路由
func (h *SchedulerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/scheduler/tick", h.HandleTick)
	mux.HandleFunc("POST /api/v1/scheduler/tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /api/v1/scheduler/tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("GET /api/v1/scheduler/tasks/{id}/logs", h.HandleTaskLogs)
}

// HandleTick 立即执行一轮调度
// @Summary 手动触发调度
// @Tags 调度
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/scheduler/tick [post]
func (h *SchedulerHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Tick(r.Context())
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, report)
}

// HandleCreateTask 创建定时任务
// @Summary 创建定时任务
// @Tags 调度
// @Accept json
// @Param body body api.CreateTaskRequest true "任务"
// @Router /api/v1/scheduler/tasks [post]
func (h *SchedulerHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.UserID == "" {
		if uid, ok := types.UserID(r.Context()); ok {
			body.UserID = uid
		}
	}

	task := body.Task()
	if err := h.repo.Create(r.Context(), &task); err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      task,
		Timestamp: task.CreatedAt,
		RequestID: requestID(r),
	})
}

// HandleGetTask 查询定时任务
// @Router /api/v1/scheduler/tasks/{id} [get]
func (h *SchedulerHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTaskErr(w, r, err)
		return
	}
	WriteSuccess(w, r, task)
}

// HandleTaskLogs 查询任务执行日志
// @Router /api/v1/scheduler/tasks/{id}/logs [get]
func (h *SchedulerHandler) HandleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.repo.Get(r.Context(), id); err != nil {
		h.writeTaskErr(w, r, err)
		return
	}
	logs, err := h.repo.Logs(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, logs)
}

func (h *SchedulerHandler) writeTaskErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrTaskNotFound, err.Error(), h.logger)
		return
	}
	WriteErr(w, r, err, h.logger)
}
