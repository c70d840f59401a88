// Package grammar parses the tag-delimited response grammar emitted by the model.
//
// A response is free text interleaved with structural tags. Every tag name is
// prefixed with a short per-turn token so that tag-like substrings inside user
// content never collide with the grammar. With prefix "t1_":
//
//	<t1_reasoning>plan</t1_reasoning>
//	<t1_status_update subject_id="s1">searching</t1_status_update>
//	Free text is emitted as text content.
//	<t1_file name="a.csv" mime_type="text/csv"><data>1,2</data></t1_file>
//	<t1_invocation capability="search" action="web">
//	<t1_parameter name="query">go generics</t1_parameter>
//	</t1_invocation>
//
// Parse accepts a prefix of the eventual response; partial structures are held
// back until a later buffer completes them.
package grammar

import "strings"

// Tag names, without the per-turn prefix.
const (
	TagReasoning    = "reasoning"
	TagStatusUpdate = "status_update"
	TagFile         = "file"
	TagInvocation   = "invocation"
	TagParameter    = "parameter"
)

// ItemKind distinguishes content items.
type ItemKind string

const (
	KindText ItemKind = "text"
	KindFile ItemKind = "file"
)

// File is a decoded file artifact. Exactly one of URL or Data is set.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Item is one content item in response order.
type Item struct {
	Kind ItemKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	File *File    `json:"file,omitempty"`
}

// StatusUpdate is a progress note meant for immediate display.
type StatusUpdate struct {
	Text      string `json:"text"`
	SubjectID string `json:"subject_id,omitempty"`
}

// Invocation is a directive to run one capability action.
type Invocation struct {
	Capability string            `json:"capability"`
	Action     string            `json:"action"`
	Version    string            `json:"version,omitempty"`
	Parameters map[string]string `json:"parameters"`
}

// Name returns the qualified invocation name, "capability.action".
func (i Invocation) Name() string {
	return i.Capability + "." + i.Action
}

// Error is a recoverable grammar error.
type Error struct {
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	if e.Tag == "" {
		return e.Message
	}
	return e.Message + ": " + e.Tag
}

// Result is the structured form of one buffer.
type Result struct {
	Reasoning        string         `json:"reasoning,omitempty"`
	StatusUpdates    []StatusUpdate `json:"status_updates,omitempty"`
	CurrentSubjectID string         `json:"current_subject_id,omitempty"`
	Items            []Item         `json:"content,omitempty"`
	Invocations      []Invocation   `json:"invocations,omitempty"`
	Errors           []Error        `json:"grammar_errors,omitempty"`
}

// Text returns the concatenated free text of all text items.
func (r *Result) Text() string {
	var b strings.Builder
	for _, it := range r.Items {
		if it.Kind == KindText {
			b.WriteString(it.Text)
		}
	}
	return b.String()
}

// HasErrors reports whether any grammar error was recorded.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Options controls a single Parse call.
type Options struct {
	// Prefix is prepended to every structural tag name.
	Prefix string
	// Final marks the buffer as the complete response.
	Final bool
}
