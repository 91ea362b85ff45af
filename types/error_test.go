package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrToolExecution, "tool failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrToolExecution {
		t.Fatalf("expected code %s, got %s", ErrToolExecution, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("outer: %w", NewRateLimitedError("too fast"))
	e, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected *Error in chain")
	}
	if e.Code != ErrRateLimited || e.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("unexpected error %+v", e)
	}
	if !IsErrorCode(wrapped, ErrRateLimited) {
		t.Fatalf("expected IsErrorCode to see wrapped code")
	}
}

func TestCause_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"network", NewConnectionError("dial", errors.New("refused")), ErrNetwork},
		{"not connected", NewNotConnectedError(), ErrNetwork},
		{"exhausted", NewToolExecutionError("t", 3, errors.New("boom")), ErrRetriesExhausted},
		{"permission", NewToolExecutionError("t", 1, NewError(ErrToolExecution, "denied").WithHTTPStatus(http.StatusForbidden)), ErrPermission},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrTimeout},
		{"plain", errors.New("x"), ErrInternalError},
		{"rate limited", NewRateLimitedError("slow down"), ErrRateLimited},
		{"handoff over network", NewHandoffError("h1", NewConnectionError("dial", errors.New("refused"))), ErrNetwork},
		{"handoff plain", NewHandoffError("h1", errors.New("boom")), ErrHandoff},
		{"dispatch forbidden", NewSchedulerDispatchError("t1", MapHTTPError(ErrSchedulerDispatch, http.StatusForbidden, "no")), ErrPermission},
	}

	for _, tt := range tests {
		if got := Cause(tt.err); got != tt.want {
			t.Fatalf("%s: Cause() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestToolResult_Decode(t *testing.T) {
	t.Parallel()

	res := SuccessResult("generate_scene_image", []byte(`{"imageUrl":"https://x/y.png"}`), 1, 0)
	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := res.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ImageURL != "https://x/y.png" || res.IsError() {
		t.Fatalf("unexpected decode %+v", out)
	}

	failed := FailureResult("t", NewNotConnectedError(), 0, 0)
	if !failed.IsError() || failed.Decode(&out) == nil {
		t.Fatalf("expected failed result without data")
	}
}

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		e := MapHTTPError(ErrHandoff, tt.status, "msg")
		if e.HTTPStatus != tt.status || e.Retryable != tt.retryable || e.Code != ErrHandoff {
			t.Fatalf("MapHTTPError(%d) = %+v", tt.status, e)
		}
	}
}

func TestReadErrorMessage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		`{"error":"quota exceeded"}`:                   "quota exceeded",
		`{"message":"bad input"}`:                      "bad input",
		`{"error":{"message":"denied","type":"auth"}}`: "denied (type: auth)",
		`plain failure`:                                "plain failure",
		``:                                             http.StatusText(http.StatusInternalServerError),
	}
	for body, want := range tests {
		if got := ReadErrorMessage(strings.NewReader(body)); got != want {
			t.Fatalf("ReadErrorMessage(%q) = %q, want %q", body, got, want)
		}
	}
}
