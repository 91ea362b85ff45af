package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/api"
	"github.com/rvndrmann/mannmediaagency-sub005/workflow"
)

// =============================================================================
// 🎬 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流阶段跟踪处理器
type WorkflowHandler struct {
	tracker *workflow.Tracker
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(tracker *workflow.Tracker, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		tracker: tracker,
		logger:  logger.With(zap.String("handler", "workflow")),
	}
}

// Register 注册工作流路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows/{unit}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/start", h.HandleStart)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/stages/{stage}", h.HandleUpdateStage)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/complete", h.HandleComplete)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/fail", h.HandleFail)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/retry/{stage}", h.HandleRetry)
	mux.HandleFunc("POST /api/v1/workflows/{unit}/scenes/{scene}", h.HandleUpdateScene)
}

// HandleGet 查询工作流状态
// @Summary 查询工作流
// @Tags 工作流
// @Produce json
// @Param unit path string true "制作单元 ID"
// @Param snapshot query bool false "优先读取内存快照"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{unit} [get]
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	unit := r.PathValue("unit")
	if snap, _ := strconv.ParseBool(r.URL.Query().Get("snapshot")); snap {
		if st, ok := h.tracker.Snapshot(unit); ok {
			WriteSuccess(w, r, st)
			return
		}
	}
	st, err := h.tracker.GetWorkflow(r.Context(), unit)
	h.respond(w, r, st, err)
}

// HandleStart 启动（或恢复）工作流
// @Summary 启动工作流
// @Tags 工作流
// @Accept json
// @Param body body api.StartWorkflowRequest false "自定义阶段"
// @Router /api/v1/workflows/{unit}/start [post]
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartWorkflowRequest
	if err := decodeOptionalBody(w, r, &req, h.logger); err != nil {
		return
	}
	stages := make([]workflow.Stage, 0, len(req.Stages))
	for _, s := range req.Stages {
		stages = append(stages, workflow.Stage(s))
	}
	st, err := h.tracker.StartWorkflow(r.Context(), r.PathValue("unit"), stages...)
	h.respond(w, r, st, err)
}

// HandleUpdateStage 更新阶段状态
// @Summary 更新阶段
// @Tags 工作流
// @Accept json
// @Param body body api.StageUpdateRequest true "阶段状态"
// @Router /api/v1/workflows/{unit}/stages/{stage} [post]
func (h *WorkflowHandler) HandleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var req api.StageUpdateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	st, err := h.tracker.UpdateStage(r.Context(), r.PathValue("unit"),
		workflow.Stage(r.PathValue("stage")), workflow.Status(req.Status), req.Result)
	h.respond(w, r, st, err)
}

// HandleComplete 完成工作流
// @Router /api/v1/workflows/{unit}/complete [post]
func (h *WorkflowHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.CompleteWorkflow(r.Context(), r.PathValue("unit"))
	h.respond(w, r, st, err)
}

// HandleFail 将工作流标记为失败
// @Router /api/v1/workflows/{unit}/fail [post]
func (h *WorkflowHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	var req api.FailWorkflowRequest
	if err := decodeOptionalBody(w, r, &req, h.logger); err != nil {
		return
	}
	st, err := h.tracker.FailWorkflow(r.Context(), r.PathValue("unit"), req.Message)
	h.respond(w, r, st, err)
}

// HandleRetry 从指定阶段重试
// @Router /api/v1/workflows/{unit}/retry/{stage} [post]
func (h *WorkflowHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.RetryFromStage(r.Context(), r.PathValue("unit"), workflow.Stage(r.PathValue("stage")))
	h.respond(w, r, st, err)
}

// HandleUpdateScene 更新场景状态
// @Accept json
// @Param body body api.SceneUpdateRequest true "场景状态"
// @Router /api/v1/workflows/{unit}/scenes/{scene} [post]
func (h *WorkflowHandler) HandleUpdateScene(w http.ResponseWriter, r *http.Request) {
	var req api.SceneUpdateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	st, err := h.tracker.UpdateSceneStatus(r.Context(), r.PathValue("unit"), r.PathValue("scene"),
		workflow.Status(req.Status), req.Data)
	h.respond(w, r, st, err)
}

func (h *WorkflowHandler) respond(w http.ResponseWriter, r *http.Request, st workflow.State, err error) {
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, st)
}
