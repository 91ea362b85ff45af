package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := RequestID(ctx); ok {
		t.Fatalf("expected no request id on empty context")
	}

	ctx = WithRequestID(ctx, "r1")
	if got, ok := RequestID(ctx); !ok || got != "r1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithSessionID(ctx, "session")
	if got, ok := SessionID(ctx); !ok || got != "session" {
		t.Fatalf("SessionID mismatch: %v %v", got, ok)
	}

	ctx = WithProjectID(ctx, "project")
	if got, ok := ProjectID(ctx); !ok || got != "project" {
		t.Fatalf("ProjectID mismatch: %v %v", got, ok)
	}

	if _, ok := UserID(WithUserID(context.Background(), "")); ok {
		t.Fatalf("empty user id must not be reported")
	}
}
