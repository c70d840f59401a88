// Package stream turns successive buffers of one model response into the events
// that are new since the previous buffer.
package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/coordinator/pkg/grammar"
)

const logPrefix = "stream:reducer"

const defaultIdleTimeout = 60 * time.Second

// Config holds reducer configuration.
type Config struct {
	// IdleTimeout bounds how long a cursor survives without a new buffer.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default reducer configuration.
func DefaultConfig() Config {
	return Config{IdleTimeout: defaultIdleTimeout}
}

// Input is one buffer of a streaming response. Buffer always holds the whole
// response so far.
type Input struct {
	ResponseID string
	Buffer     string
	Prefix     string
	FirstChunk bool
	Final      bool
}

// ContentEvent is one content item surfaced by a Feed call. Text carries the
// free-text delta of the call and is set on at most one event.
type ContentEvent struct {
	Index      int              `json:"index"`
	Kind       grammar.ItemKind `json:"kind"`
	File       *grammar.File    `json:"file,omitempty"`
	Text       string           `json:"text,omitempty"`
	FirstChunk bool             `json:"first_chunk"`
	LastChunk  bool             `json:"last_chunk"`
}

// Update is everything a buffer added since the previous one.
type Update struct {
	ResponseID       string                 `json:"response_id"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	StatusUpdates    []grammar.StatusUpdate `json:"status_updates,omitempty"`
	CurrentSubjectID string                 `json:"current_subject_id,omitempty"`
	Content          []ContentEvent         `json:"content,omitempty"`
	Final            bool                   `json:"final"`

	// Set only on the final buffer.
	Invocations []grammar.Invocation `json:"invocations,omitempty"`
	Errors      []grammar.Error      `json:"grammar_errors,omitempty"`
}

// Empty reports whether the update carries nothing to forward.
func (u *Update) Empty() bool {
	return !u.Final && u.Reasoning == "" && len(u.StatusUpdates) == 0 && len(u.Content) == 0
}

// Text returns the free-text delta carried by the update.
func (u *Update) Text() string {
	for _, ev := range u.Content {
		if ev.Text != "" {
			return ev.Text
		}
	}
	return ""
}

type cursor struct {
	next          int  // index of the first item whose last chunk is not yet out
	started       bool // first chunk of item next already emitted
	flushed       int  // bytes of free text already emitted
	statusSent    int
	reasoningSent bool
	lastSeen      time.Time
}

// Reducer holds one cursor per in-flight response.
type Reducer struct {
	mu      sync.Mutex
	cursors map[string]*cursor
	config  Config
	now     func() time.Time
}

// NewReducerParams holds parameters for NewReducer.
type NewReducerParams struct {
	Config Config
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewReducer creates a new Reducer.
func NewReducer(params NewReducerParams) *Reducer {
	cfg := params.Config
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reducer{
		cursors: make(map[string]*cursor),
		config:  cfg,
		now:     now,
	}
}

// Feed parses in.Buffer and returns only what is new for in.ResponseID.
// Buffers of one response must arrive in non-decreasing order.
func (r *Reducer) Feed(in Input) *Update {
	res := grammar.Parse(in.Buffer, grammar.Options{Prefix: in.Prefix, Final: in.Final})
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeLocked(now)

	c, ok := r.cursors[in.ResponseID]
	if !ok || in.FirstChunk {
		c = &cursor{}
		r.cursors[in.ResponseID] = c
	}
	c.lastSeen = now

	up := &Update{
		ResponseID:       in.ResponseID,
		CurrentSubjectID: res.CurrentSubjectID,
		Final:            in.Final,
	}

	if res.Reasoning != "" && !c.reasoningSent {
		up.Reasoning = res.Reasoning
		c.reasoningSent = true
	}

	switch {
	case len(res.StatusUpdates) > c.statusSent:
		up.StatusUpdates = append(up.StatusUpdates, res.StatusUpdates[c.statusSent:]...)
		c.statusSent = len(res.StatusUpdates)
	case in.Final && len(res.StatusUpdates) > 0:
		up.StatusUpdates = append(up.StatusUpdates, res.StatusUpdates[len(res.StatusUpdates)-1])
	}

	up.Content = c.advance(res, in.Final)

	if in.Final {
		up.Invocations = res.Invocations
		up.Errors = res.Errors
		delete(r.cursors, in.ResponseID)
	}
	return up
}

// advance emits events for items at or after the cursor and attaches the text
// delta to the last text-bearing one.
func (c *cursor) advance(res *grammar.Result, final bool) []ContentEvent {
	var events []ContentEvent
	for i := c.next; i < len(res.Items); i++ {
		it := res.Items[i]
		last := i < len(res.Items)-1 || final
		ev := ContentEvent{
			Index:      i,
			Kind:       it.Kind,
			File:       it.File,
			FirstChunk: !(i == c.next && c.started),
			LastChunk:  last,
		}
		events = append(events, ev)
		if last {
			c.next = i + 1
			c.started = false
		} else {
			c.started = true
		}
	}

	total := res.Text()
	if len(total) > c.flushed {
		delta := total[c.flushed:]
		c.flushed = len(total)
		attached := false
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Kind == grammar.KindText {
				events[i].Text = delta
				attached = true
				break
			}
		}
		if !attached {
			events = append(events, ContentEvent{Index: len(res.Items) - 1, Kind: grammar.KindText, Text: delta})
		}
	}

	// An item that is still open and gained nothing this time is not news.
	out := events[:0]
	for _, ev := range events {
		if !ev.FirstChunk && !ev.LastChunk && ev.Text == "" {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Purge drops cursors idle for longer than the configured timeout and returns
// how many were dropped.
func (r *Reducer) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked(now)
}

func (r *Reducer) purgeLocked(now time.Time) int {
	n := 0
	for id, c := range r.cursors {
		if now.Sub(c.lastSeen) > r.config.IdleTimeout {
			delete(r.cursors, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug(fmt.Sprintf("%s - purged %d idle stream cursors", logPrefix, n))
	}
	return n
}

// Active returns the number of responses currently tracked.
func (r *Reducer) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}
