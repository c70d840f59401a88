// Package events defines the messages the coordinator exchanges with workers
// and downstream consumers, and the publishers that send them.
package events

import (
	"time"

	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/stream"
)

// CompletionReasonNoFurtherAction marks a turn that produced no invocations.
const CompletionReasonNoFurtherAction = "no_further_action"

// Artifact is a file reference passed through untouched.
type Artifact = dispatch.Artifact

// RequestEvent is published to a capability action for each outstanding
// request, and to the capability's timeout destination when it times out.
type RequestEvent struct {
	BatchID    string            `json:"batchId"`
	Index      int               `json:"index"`
	Capability string            `json:"capability"`
	Action     string            `json:"action"`
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Parameters map[string]string `json:"parameters"`
	Originator string            `json:"originator"`
	Session    string            `json:"session,omitempty"`
	TimedOut   bool              `json:"timedOut,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// NewRequestEvent builds the wire form of an outstanding request.
func NewRequestEvent(r dispatch.Request, now time.Time) *RequestEvent {
	return &RequestEvent{
		BatchID:    r.BatchID,
		Index:      r.Index,
		Capability: r.Capability,
		Action:     r.Action,
		Name:       r.Name,
		Version:    r.Version,
		Parameters: r.Parameters,
		Originator: r.Originator,
		Session:    r.Session,
		TimedOut:   r.Result != nil && r.Result.TimedOut,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}

// ResultMessage is a worker's reply to one request.
type ResultMessage struct {
	BatchID    string     `json:"batchId"`
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Originator string     `json:"originator"`
	Text       string     `json:"text,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Result converts the message into the correlator's result form.
func (m *ResultMessage) Result() dispatch.Result {
	return dispatch.Result{Text: m.Text, Artifacts: m.Artifacts, Error: m.Error}
}

// ModelOutput is one buffer of a streaming model response. Text always holds
// the whole response so far.
type ModelOutput struct {
	ResponseID string   `json:"responseId"`
	Session    string   `json:"session"`
	Scopes     []string `json:"scopes,omitempty"`
	Prefix     string   `json:"prefix"`
	Text       string   `json:"text"`
	FirstChunk bool     `json:"firstChunk,omitempty"`
	LastChunk  bool     `json:"lastChunk,omitempty"`
}

// TurnEvent asks the model to run another turn with Text as its input.
type TurnEvent struct {
	Originator string     `json:"originator"`
	Session    string     `json:"session"`
	ResponseID string     `json:"responseId,omitempty"`
	BatchID    string     `json:"batchId,omitempty"`
	Text       string     `json:"text"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	// Reinvoke asks for an immediate model call without waiting for the user.
	Reinvoke bool `json:"reinvoke"`
	// Corrective marks a turn that reports malformed output or a rejected
	// submission back to the model.
	Corrective bool     `json:"corrective,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// CompletionEvent signals that a turn finished with no further action.
type CompletionEvent struct {
	Originator string `json:"originator"`
	Session    string `json:"session"`
	ResponseID string `json:"responseId"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// StreamEvent forwards what one buffer added to downstream consumers.
type StreamEvent struct {
	Originator string `json:"originator"`
	Session    string `json:"session"`
	stream.Update
}
