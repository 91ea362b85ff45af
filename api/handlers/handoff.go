package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/handoff"
	"github.com/rvndrmann/mannmediaagency-sub005/api"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// =============================================================================
// 🤝 交接 Handler
// =============================================================================

// HandoffHandler 会话内 Agent 交接处理器
type HandoffHandler struct {
	registry *handoff.Registry
	logger   *zap.Logger
}

// NewHandoffHandler 创建交接处理器
func NewHandoffHandler(registry *handoff.Registry, logger *zap.Logger) *HandoffHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffHandler{
		registry: registry,
		logger:   logger.With(zap.String("handler", "handoff")),
	}
}

// Register 注册交接路由
func (h *HandoffHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions/{session}/handoffs", h.HandleList)
	mux.HandleFunc("POST /api/v1/sessions/{session}/handoffs", h.HandleCreate)
	mux.HandleFunc("POST /api/v1/sessions/{session}/handoffs/clear-failed", h.HandleClearFailed)
	mux.HandleFunc("GET /api/v1/sessions/{session}/handoffs/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/sessions/{session}/handoffs/{id}/process", h.HandleProcess)
	mux.HandleFunc("POST /api/v1/sessions/{session}/handoffs/{id}/cancel", h.HandleCancel)
}

// HandleList 列出会话内全部交接
// @Summary 列出交接
// @Tags 交接
// @Produce json
// @Param session path string true "会话 ID"
// @Router /api/v1/sessions/{session}/handoffs [get]
func (h *HandoffHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, c.GetHandoffs())
}

// HandleGet 查询单个交接
// @Router /api/v1/sessions/{session}/handoffs/{id} [get]
func (h *HandoffHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	req, found := c.GetHandoff(id)
	if !found {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrHandoffNotFound, "handoff "+id+" not found", h.logger)
		return
	}
	WriteSuccess(w, r, req)
}

// HandleCreate 创建待处理交接
// @Summary 创建交接
// @Tags 交接
// @Accept json
// @Param body body api.CreateHandoffRequest true "交接请求"
// @Router /api/v1/sessions/{session}/handoffs [post]
func (h *HandoffHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body api.CreateHandoffRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	req, err := c.RequestHandoff(r.Context(), body.FromAgent, body.TargetAgent, body.Reason, body.Context)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      req,
		Timestamp: req.Timestamp,
		RequestID: requestID(r),
	})
}

// HandleProcess 执行交接。远端失败以 Result 形式返回，
// 只有交接不存在或状态不允许时才返回错误响应。
// @Accept json
// @Param body body api.ProcessHandoffRequest false "会话消息"
// @Router /api/v1/sessions/{session}/handoffs/{id}/process [post]
func (h *HandoffHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var body api.ProcessHandoffRequest
	if err := decodeOptionalBody(w, r, &body, h.logger); err != nil {
		return
	}
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	res := c.ProcessHandoff(r.Context(), r.PathValue("id"), body.Messages)
	if isLookupError(res.Error) {
		WriteError(w, r, res.Error, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleCancel 取消待处理交接
// @Router /api/v1/sessions/{session}/handoffs/{id}/cancel [post]
func (h *HandoffHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	req, err := c.CancelHandoff(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, req)
}

// HandleClearFailed 删除会话内全部失败的交接
// @Summary 清理失败交接
// @Tags 交接
// @Router /api/v1/sessions/{session}/handoffs/clear-failed [post]
func (h *HandoffHandler) HandleClearFailed(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	n, err := c.ClearFailed(r.Context())
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.ClearFailedResponse{Removed: n})
}

func (h *HandoffHandler) session(w http.ResponseWriter, r *http.Request) (*handoff.Coordinator, bool) {
	c, err := h.registry.Session(r.Context(), r.PathValue("session"))
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "session unavailable").WithCause(err), h.logger)
		return nil, false
	}
	return c, true
}

func isLookupError(err *types.Error) bool {
	return err != nil && (err.Code == types.ErrHandoffNotFound || err.Code == types.ErrInvalidTransition)
}
