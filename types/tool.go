package types

import (
	"encoding/json"
	"time"
)

// ToolResult is the outcome of one tool invocation. It is never mutated
// after creation.
type ToolResult struct {
	Success  bool            `json:"success"`
	Tool     string          `json:"tool,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *Error          `json:"error,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// SuccessResult builds a successful result.
func SuccessResult(tool string, data json.RawMessage, attempts int, d time.Duration) ToolResult {
	return ToolResult{Success: true, Tool: tool, Data: data, Attempts: attempts, Duration: d}
}

// FailureResult builds a failed result.
func FailureResult(tool string, err *Error, attempts int, d time.Duration) ToolResult {
	return ToolResult{Tool: tool, Error: err, Attempts: attempts, Duration: d}
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return !tr.Success
}

// Decode unmarshals the result payload into v.
func (tr ToolResult) Decode(v any) error {
	if len(tr.Data) == 0 {
		return NewInvalidRequestError("tool result has no data")
	}
	return json.Unmarshal(tr.Data, v)
}
