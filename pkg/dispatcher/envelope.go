// Package dispatcher routes control-plane requests to the coordinator.
package dispatcher

import "encoding/json"

// ControlRequest is the JSON envelope for incoming control-plane requests.
type ControlRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params,omitempty"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// ControlResponse is the JSON envelope for control-plane responses.
type ControlResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	SessionID     string `json:"sessionId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SessionParams names the session a method applies to. An empty session falls
// back to the invocation context.
type SessionParams struct {
	Session string `json:"session,omitempty"`
}

// DescribeParams holds parameters for describe.
type DescribeParams struct {
	Capability string `json:"capability"`
	Session    string `json:"session,omitempty"`
}

// BatchesParams holds parameters for batches. A set BatchID returns that
// batch in full.
type BatchesParams struct {
	BatchID string `json:"batchId,omitempty"`
}

// CapabilityView is one live capability with its state for a session.
type CapabilityView struct {
	Capability  string   `json:"capability"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
	State       string   `json:"state"`
	ExpiresAt   string   `json:"expiresAt,omitempty"`
}
