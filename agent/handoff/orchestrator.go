package handoff

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

// HTTPOrchestrator posts handoffs to a remote orchestration endpoint as JSON.
type HTTPOrchestrator struct {
	endpoint string
	client   *http.Client
	headers  http.Header
	logger   *zap.Logger
}

// HTTPOrchestratorOption configures an HTTPOrchestrator.
type HTTPOrchestratorOption func(*HTTPOrchestrator)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOrchestratorOption {
	return func(o *HTTPOrchestrator) { o.client = c }
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) HTTPOrchestratorOption {
	return func(o *HTTPOrchestrator) { o.headers.Set(key, value) }
}

// NewHTTPOrchestrator creates an orchestrator client for endpoint.
func NewHTTPOrchestrator(endpoint string, timeout time.Duration, logger *zap.Logger, opts ...HTTPOrchestratorOption) *HTTPOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	o := &HTTPOrchestrator{
		endpoint: endpoint,
		client:   tlsutil.HTTPClient(timeout),
		headers:  make(http.Header),
		logger:   logger.With(zap.String("component", "handoff_orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transfer implements Orchestrator.
func (o *HTTPOrchestrator) Transfer(ctx context.Context, req TransferRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		httpReq.Header[k] = v
	}
	if id, ok := types.RequestID(ctx); ok {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, types.NewConnectionError("orchestration endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := types.ReadErrorMessage(resp.Body)
		o.logger.Warn("orchestration endpoint rejected handoff",
			zap.String("handoff_id", req.HandoffID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, types.MapHTTPError(types.ErrHandoff, resp.StatusCode, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewConnectionError("failed to read orchestration response", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, types.NewError(types.ErrHandoff, "orchestration endpoint returned invalid JSON")
	}
	return json.RawMessage(body), nil
}
