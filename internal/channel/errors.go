package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout means no response arrived within the call's budget.
	ErrTimeout = errors.New("channel: call timed out")
	// ErrNetwork means the connection was unavailable or lost.
	ErrNetwork = errors.New("channel: network failure")
	// ErrClosed is returned for calls made after Close.
	ErrClosed = fmt.Errorf("channel: client closed: %w", ErrNetwork)
)

// ServiceError is a failure reported by the backend, or a response it sent
// that could not be decoded.
type ServiceError struct {
	Event   string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Message)
}

// errorMessage extracts a human-readable message from an error event payload.
func errorMessage(data json.RawMessage) string {
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(data, &obj) == nil {
		for _, m := range []string{obj.Error, obj.Message, obj.Detail} {
			if m != "" {
				return m
			}
		}
	}
	var s string
	if json.Unmarshal(data, &s) == nil && s != "" {
		return s
	}
	if msg := strings.TrimSpace(string(data)); msg != "" && msg != "null" {
		return msg
	}
	return "unknown error"
}

func networkError(err error) error {
	if err == nil || errors.Is(err, ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
