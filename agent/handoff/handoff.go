package handoff

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// Status represents the status of a handoff.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether s may move to next. Status only moves
// forward: pending -> processing -> {complete, failed}; a pending handoff
// may also fail directly when cancelled.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// Request is one handoff. Records are immutable once stored; every update
// replaces the whole record.
type Request struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	FromAgent   string          `json:"from_agent"`
	TargetAgent string          `json:"target_agent"`
	Reason      string          `json:"reason,omitempty"`
	Context     map[string]any  `json:"context,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      Status          `json:"status"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// transition returns a copy of r in the next status.
func (r *Request) transition(next Status, now time.Time) *Request {
	cp := *r
	cp.Context = maps.Clone(r.Context)
	cp.Response = append(json.RawMessage(nil), r.Response...)
	cp.Status = next
	cp.UpdatedAt = now
	return &cp
}

// Message is one conversation message carried with a handoff.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Result is the outcome of ProcessHandoff. Failures are reported here, not
// as panics or out-of-band errors.
type Result struct {
	HandoffID string          `json:"handoff_id"`
	Success   bool            `json:"success"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     *types.Error    `json:"error,omitempty"`
}

// TransferRequest is the payload delivered to the orchestration endpoint.
type TransferRequest struct {
	HandoffID   string         `json:"handoffId"`
	FromAgent   string         `json:"fromAgent"`
	TargetAgent string         `json:"targetAgent"`
	ToolName    string         `json:"toolName"`
	Reason      string         `json:"reason,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Messages    []Message      `json:"messages"`
}

// Orchestrator delivers a handoff to the receiving agent.
type Orchestrator interface {
	Transfer(ctx context.Context, req TransferRequest) (json.RawMessage, error)
}

// OrchestratorFunc adapts a function to Orchestrator.
type OrchestratorFunc func(ctx context.Context, req TransferRequest) (json.RawMessage, error)

// Transfer implements Orchestrator.
func (f OrchestratorFunc) Transfer(ctx context.Context, req TransferRequest) (json.RawMessage, error) {
	return f(ctx, req)
}
