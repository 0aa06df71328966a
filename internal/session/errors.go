package session

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput      = errors.New("message is empty")
	ErrBusy            = errors.New("a request is already in progress for this session")
	ErrSessionNotFound = errors.New("session not found")
)

// AgentInvocationError reports a failed agent call. The session stays usable.
type AgentInvocationError struct {
	SessionID string
	Err       error
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent invocation failed for session %s: %v", e.SessionID, e.Err)
}

func (e *AgentInvocationError) Unwrap() error {
	return e.Err
}
