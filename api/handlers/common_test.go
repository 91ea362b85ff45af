package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{"simple object", map[string]string{"message": "hello"}, http.StatusOK},
		{"array", []int{1, 2, 3}, http.StatusOK},
		{"created", map[string]int{"id": 1}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{"invalid request", types.NewInvalidRequestError("status is required"), http.StatusBadRequest},
		{"workflow not found", types.NewError(types.ErrWorkflowNotFound, "unit u1 not found"), http.StatusNotFound},
		{"terminal", types.NewError(types.ErrWorkflowTerminal, "completed"), http.StatusConflict},
		{"invalid transition", types.NewError(types.ErrInvalidTransition, "already complete"), http.StatusConflict},
		{"credits", types.NewError(types.ErrInsufficientCredits, "insufficient credits"), http.StatusPaymentRequired},
		{"handoff failure", types.NewHandoffError("h1", errors.New("boom")), http.StatusBadGateway},
		{"explicit status wins", types.NewError(types.ErrHandoff, "x").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot},
		{"internal error", types.NewError(types.ErrInternalError, "database down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteErr_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErr(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("disk full"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.Equal(t, "disk full", resp.Error.Details)
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    payload
	}{
		{"valid", `{"name":"a","value":1}`, false, payload{Name: "a", Value: 1}},
		{"unknown field", `{"name":"a","extra":true}`, true, payload{}},
		{"malformed", `{"name":`, true, payload{}},
		{"empty", ``, true, payload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got payload
			err := DecodeJSONBody(w, r, &got, logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	big := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(big))

	var dst map[string]string
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "request body too large", resp.Error.Message)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, mapErrorCodeToHTTPStatus(types.ErrTaskNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, mapErrorCodeToHTTPStatus(types.ErrNotConnected))
	assert.Equal(t, http.StatusTooManyRequests, mapErrorCodeToHTTPStatus(types.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, mapErrorCodeToHTTPStatus("SOMETHING_ELSE"))
}
