// Package dispatch turns the invocations of one model turn into a batch of
// outstanding requests and correlates asynchronous results back to them.
package dispatch

import (
	"time"

	"github.com/morezero/coordinator/pkg/grammar"
)

// Error codes.
const (
	CodeUnknownBatch       = "UNKNOWN_BATCH"
	CodeOriginatorMismatch = "ORIGINATOR_MISMATCH"
	CodeIndexOutOfRange    = "INDEX_OUT_OF_RANGE"
	CodeNameMismatch       = "NAME_MISMATCH"
	CodeDuplicateResult    = "DUPLICATE_RESULT"
	CodeLateResult         = "LATE_RESULT"
	CodeFinalizing         = "FINALIZING"

	CodeUnknownCapability = "UNKNOWN_CAPABILITY"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeCapabilityClosed  = "CAPABILITY_CLOSED"
	CodeForbidden         = "FORBIDDEN"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
)

// FallbackCapability receives timeout notifications for requests whose name
// carries no capability qualifier.
const FallbackCapability = "default"

// Error is a correlation or submission failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Artifact is a file reference passed through untouched.
type Artifact = grammar.File

// Result is what a worker reported for one request, or the synthetic result
// forced in by a timeout.
type Result struct {
	Text      string     `json:"text,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Error     string     `json:"error,omitempty"`
	TimedOut  bool       `json:"timedOut,omitempty"`
}

// Request is one outstanding request. Index is its fixed position within the
// batch.
type Request struct {
	BatchID    string            `json:"batchId"`
	Index      int               `json:"index"`
	Capability string            `json:"capability"`
	Action     string            `json:"action"`
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Parameters map[string]string `json:"parameters"`
	Originator string            `json:"originator"`
	Session    string            `json:"session,omitempty"`
	Result     *Result           `json:"result,omitempty"`
}

// Batch is a read-only snapshot of a dispatch batch.
type Batch struct {
	ID          string    `json:"id"`
	Originator  string    `json:"originator"`
	Session     string    `json:"session,omitempty"`
	Created     time.Time `json:"created"`
	Requests    []Request `json:"requests"`
	Pending     int       `json:"pending"`
	StaleSweeps int       `json:"staleSweeps"`
}

// Summary is the listing view of a live batch.
type Summary struct {
	ID          string    `json:"id"`
	Originator  string    `json:"originator"`
	Session     string    `json:"session,omitempty"`
	Created     time.Time `json:"created"`
	Size        int       `json:"size"`
	Pending     int       `json:"pending"`
	StaleSweeps int       `json:"staleSweeps"`
}

// SubmitInput holds parameters for Submit.
type SubmitInput struct {
	Originator string
	Session    string
	// Scopes are the authorization scopes held by the session.
	Scopes     []string
	Directives []grammar.Invocation
}

// ResolveInput holds parameters for Resolve.
type ResolveInput struct {
	BatchID    string
	Index      int
	Name       string
	Originator string
	Result     Result
}

// SweepOutcome is what one sweep did.
type SweepOutcome struct {
	// Timeouts are the requests that received a synthetic timed-out result.
	Timeouts []Request
	// Completed are batches at zero pending that still await finalization,
	// including those the timeouts just completed.
	Completed []*Batch
	// AgedOut are ids of stale batches deleted without completion.
	AgedOut []string
}

// Narrative is a finalized batch folded into text for the next model turn.
type Narrative struct {
	BatchID    string     `json:"batchId"`
	Originator string     `json:"originator"`
	Session    string     `json:"session,omitempty"`
	Text       string     `json:"text"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	TimedOut   int        `json:"timedOut"`
	Failed     int        `json:"failed"`
}
