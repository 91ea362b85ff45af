package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// MessageType identifies a wire envelope.
type MessageType string

const (
	// Outbound
	TypeSetContext  MessageType = "set-context"
	TypeExecuteTool MessageType = "execute-tool"
	TypeHeartbeat   MessageType = "heartbeat"

	// Either direction
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	// Inbound
	TypeToolResult   MessageType = "tool-result"
	TypeStatusUpdate MessageType = "status-update"
	TypeError        MessageType = "error"
)

// ProjectContext scopes tool calls on the remote side.
type ProjectContext struct {
	ProjectID string `json:"projectId"`
}

// Envelope is the JSON frame exchanged with the tool-execution endpoint.
// Outbound frames use the first block of fields; inbound tool-result and
// status-update frames carry the rest.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ClientID  string          `json:"clientId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Context   *ProjectContext `json:"context,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`

	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    int             `json:"code,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

func newEnvelope(t MessageType, clientID string) Envelope {
	return Envelope{Type: t, ClientID: clientID, Timestamp: time.Now().UnixMilli()}
}

// Failed reports whether an inbound result envelope describes a failure.
func (e Envelope) Failed() bool {
	if e.Type == TypeError {
		return true
	}
	if e.Success != nil {
		return !*e.Success
	}
	return e.Error != ""
}

// Err converts a failed result envelope into a structured error. Remote
// 401/403 codes are kept so the failure classifies as a permission problem.
func (e Envelope) Err() *types.Error {
	msg := e.Error
	if msg == "" {
		msg = e.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("tool %s failed remotely", e.ToolName)
	}
	err := types.NewError(types.ErrToolExecution, msg)
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return err.WithHTTPStatus(e.Code)
	case 0:
		return err.WithRetryable(true)
	default:
		return err.WithHTTPStatus(e.Code).WithRetryable(e.Code >= http.StatusInternalServerError)
	}
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, types.NewInvalidRequestError("params are not JSON encodable").WithCause(err)
		}
		return b, nil
	}
}
