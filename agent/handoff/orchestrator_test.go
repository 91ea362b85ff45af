package handoff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

func TestHTTPOrchestrator_Transfer(t *testing.T) {
	var got TransferRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"agent":"script","status":"accepted"}`))
	}))
	defer srv.Close()

	orch := NewHTTPOrchestrator(srv.URL, time.Second, zap.NewNop(), WithHeader("Authorization", "Bearer t0k"))
	ctx := types.WithRequestID(context.Background(), "req-1")
	resp, err := orch.Transfer(ctx, TransferRequest{
		HandoffID:   "h1",
		FromAgent:   "main",
		TargetAgent: "script",
		ToolName:    TransferToolName("script"),
		Reason:      "needs a script",
		Context:     map[string]any{"projectId": "p1"},
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"agent":"script","status":"accepted"}`, string(resp))

	assert.Equal(t, "h1", got.HandoffID)
	assert.Equal(t, "transfer_to_script_agent", got.ToolName)
	assert.Equal(t, "p1", got.Context["projectId"])
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer t0k", headers.Get("Authorization"))
	assert.Equal(t, "req-1", headers.Get("X-Request-ID"))
}

func TestHTTPOrchestrator_WireFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	orch := NewHTTPOrchestrator(srv.URL, time.Second, nil)
	resp, err := orch.Transfer(context.Background(), TransferRequest{HandoffID: "h1", FromAgent: "a", TargetAgent: "b", ToolName: "transfer_to_b_agent"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	for _, key := range []string{"handoffId", "fromAgent", "targetAgent", "toolName", "messages"} {
		assert.Contains(t, raw, key)
	}
}

func TestHTTPOrchestrator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCause types.ErrorCode
		retryable bool
	}{
		{"forbidden", http.StatusForbidden, `{"error":"not allowed"}`, types.ErrPermission, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired"}`, types.ErrPermission, false},
		{"unavailable", http.StatusServiceUnavailable, `busy`, types.ErrHandoff, true},
		{"bad request", http.StatusBadRequest, `{"message":"unknown agent"}`, types.ErrHandoff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPOrchestrator(srv.URL, time.Second, zap.NewNop()).Transfer(context.Background(), TransferRequest{HandoffID: "h1"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCause, types.Cause(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestHTTPOrchestrator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPOrchestrator(url, time.Second, zap.NewNop()).Transfer(context.Background(), TransferRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrNetwork, types.Cause(err))
}

func TestHTTPOrchestrator_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := NewHTTPOrchestrator(srv.URL, time.Second, zap.NewNop()).Transfer(context.Background(), TransferRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrHandoff))
}
