package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/internal/tlsutil"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// DispatchRequest is the body posted to the execution endpoint.
type DispatchRequest struct {
	Task            string            `json:"task"`
	ScheduledTaskID string            `json:"scheduledTaskId"`
	UserID          string            `json:"userId,omitempty"`
	SensitiveData   map[string]string `json:"sensitiveData,omitempty"`
	SaveBrowserData bool              `json:"saveBrowserData"`
}

// Dispatcher starts a task on the execution endpoint and returns the id of
// the started execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req DispatchRequest) (string, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	return f(ctx, req)
}

// HTTPDispatcher posts tasks to the execution endpoint with a Bearer token.
type HTTPDispatcher struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPDispatcher creates a dispatcher for endpoint.
func NewHTTPDispatcher(endpoint, token string, timeout time.Duration, logger *zap.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{
		endpoint: endpoint,
		token:    token,
		client:   tlsutil.HTTPClient(timeout),
		logger:   logger.With(zap.String("component", "scheduler_dispatcher")),
	}
}

// Dispatch implements Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}
	if id, ok := types.RequestID(ctx); ok {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", types.NewConnectionError("execution endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := types.ReadErrorMessage(resp.Body)
		d.logger.Warn("execution endpoint rejected task",
			zap.String("scheduled_task_id", req.ScheduledTaskID),
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg),
		)
		return "", types.MapHTTPError(types.ErrSchedulerDispatch, resp.StatusCode, msg)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", types.NewConnectionError("failed to read execution response", err)
	}
	var started struct {
		ID     string `json:"id"`
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		return "", types.NewError(types.ErrSchedulerDispatch, "invalid execution response").WithCause(err)
	}
	if started.ID != "" {
		return started.ID, nil
	}
	if started.TaskID != "" {
		return started.TaskID, nil
	}
	return "", types.NewError(types.ErrSchedulerDispatch, "execution response carries no id")
}
