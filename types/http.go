package types

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MapHTTPError maps a non-2xx response from a remote service to an Error
// of the given code, carrying the status so Cause can classify it.
func MapHTTPError(code ErrorCode, status int, msg string) *Error {
	e := NewError(code, msg).WithHTTPStatus(status)
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		e.Retryable = true
	default:
		e.Retryable = status >= 500
	}
	return e
}

// ReadErrorMessage reads an error message from a response body. JSON
// bodies of the form {"error": "..."} or {"error": {"message": "..."}} are
// unwrapped; anything else is returned as text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &flat); err == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Error.Message != "" {
		if nested.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", nested.Error.Message, nested.Error.Type)
		}
		return nested.Error.Message
	}

	if len(data) == 0 {
		return http.StatusText(http.StatusInternalServerError)
	}
	return string(data)
}
