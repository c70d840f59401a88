// Package coordinator wires the stream reducer, the dispatch correlator and
// the capability registry into the turn loop: model output in, outstanding
// requests out, results folded back into the next model turn.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/coordinator/pkg/commsutil"
	"github.com/morezero/coordinator/pkg/db"
	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/events"
	"github.com/morezero/coordinator/pkg/grammar"
	"github.com/morezero/coordinator/pkg/registry"
	"github.com/morezero/coordinator/pkg/stream"
)

const logPrefix = "coordinator:coordinator"

// Coordinator runs the turn loop for one originator.
type Coordinator struct {
	originator string
	registry   *registry.Registry
	gate       *registry.Gate
	reducer    *stream.Reducer
	correlator *dispatch.Correlator
	publisher  events.Publisher
	journal    Journal
	now        func() time.Time
}

// NewCoordinatorParams holds parameters for NewCoordinator. Nil components are
// created with their defaults.
type NewCoordinatorParams struct {
	// Originator tags every batch and addresses this coordinator's subjects.
	Originator string
	Registry   *registry.Registry
	Gate       *registry.Gate
	Reducer    *stream.Reducer
	Correlator *dispatch.Correlator
	Publisher  events.Publisher
	Journal    Journal
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(params NewCoordinatorParams) (*Coordinator, error) {
	if !commsutil.ValidToken(params.Originator) {
		return nil, fmt.Errorf("%s - invalid originator %q", logPrefix, params.Originator)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		originator: params.Originator,
		registry:   params.Registry,
		gate:       params.Gate,
		reducer:    params.Reducer,
		correlator: params.Correlator,
		publisher:  params.Publisher,
		journal:    params.Journal,
		now:        now,
	}
	if c.registry == nil {
		c.registry = registry.NewRegistry(registry.NewRegistryParams{Config: registry.DefaultConfig(), Now: now})
	}
	if c.gate == nil {
		c.gate = registry.NewGate()
	}
	if c.reducer == nil {
		c.reducer = stream.NewReducer(stream.NewReducerParams{Config: stream.DefaultConfig(), Now: now})
	}
	if c.correlator == nil {
		c.correlator = dispatch.NewCorrelator(dispatch.NewCorrelatorParams{
			Catalog: c.registry,
			Gate:    c.gate,
			Config:  dispatch.DefaultConfig(),
			Now:     now,
		})
	}
	if c.publisher == nil {
		c.publisher = &events.NoOpPublisher{}
	}
	if c.journal == nil {
		c.journal = NoOpJournal{}
	}
	return c, nil
}

// Originator returns the originator tag of this coordinator.
func (c *Coordinator) Originator() string { return c.originator }

// Registry returns the capability registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Gate returns the session gate.
func (c *Coordinator) Gate() *registry.Gate { return c.gate }

// Correlator returns the dispatch correlator.
func (c *Coordinator) Correlator() *dispatch.Correlator { return c.correlator }

// Now returns the coordinator's current time.
func (c *Coordinator) Now() time.Time { return c.now() }

// Stats is a point-in-time view of the coordinator's tables.
type Stats struct {
	Capabilities int `json:"capabilities"`
	Sessions     int `json:"sessions"`
	Batches      int `json:"batches"`
	Streams      int `json:"streams"`
}

// Stats returns table sizes for health reporting.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Capabilities: len(c.registry.Available()),
		Sessions:     c.gate.Sessions(),
		Batches:      len(c.correlator.List()),
		Streams:      c.reducer.Active(),
	}
}

// HandleAnnouncement registers or refreshes a capability.
func (c *Coordinator) HandleAnnouncement(_ context.Context, a *registry.Announcement) (*registry.Descriptor, error) {
	d, err := c.registry.Announce(a)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - rejected announcement: %v", logPrefix, err))
		return nil, err
	}
	return d, nil
}

// HandleModelOutput feeds one buffer of a model response through the reducer
// and forwards what is new. The final buffer either dispatches the response's
// invocations, reports its grammar errors back to the model, or signals that
// nothing further will happen.
func (c *Coordinator) HandleModelOutput(ctx context.Context, out *events.ModelOutput) error {
	if out == nil || out.ResponseID == "" {
		return fmt.Errorf("%s - model output requires a response id", logPrefix)
	}

	up := c.reducer.Feed(stream.Input{
		ResponseID: out.ResponseID,
		Buffer:     out.Text,
		Prefix:     out.Prefix,
		FirstChunk: out.FirstChunk,
		Final:      out.LastChunk,
	})
	if !up.Empty() {
		err := c.publisher.PublishStream(ctx, &events.StreamEvent{Originator: c.originator, Session: out.Session, Update: *up})
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to forward stream update for %s: %v", logPrefix, out.ResponseID, err))
		}
	}
	if !up.Final {
		return nil
	}

	switch {
	case len(up.Errors) > 0:
		msgs := make([]string, len(up.Errors))
		for i, e := range up.Errors {
			msgs[i] = e.Error()
		}
		slog.Warn(fmt.Sprintf("%s - response %s has %d grammar errors", logPrefix, out.ResponseID, len(msgs)))
		return c.publishCorrective(ctx, out, "Your previous response could not be processed:", msgs)
	case len(up.Invocations) == 0:
		slog.Debug(fmt.Sprintf("%s - response %s finished with no invocations", logPrefix, out.ResponseID))
		err := c.publisher.PublishCompletion(ctx, &events.CompletionEvent{
			Originator: c.originator,
			Session:    out.Session,
			ResponseID: out.ResponseID,
			Reason:     events.CompletionReasonNoFurtherAction,
			Timestamp:  c.timestamp(),
		})
		if err != nil {
			return fmt.Errorf("%s - failed to publish completion for %s: %w", logPrefix, out.ResponseID, err)
		}
		return nil
	}

	return c.submit(ctx, out, up.Invocations)
}

func (c *Coordinator) submit(ctx context.Context, out *events.ModelOutput, directives []grammar.Invocation) error {
	b, derr := c.correlator.Submit(dispatch.SubmitInput{
		Originator: c.originator,
		Session:    out.Session,
		Scopes:     out.Scopes,
		Directives: directives,
	})
	if derr != nil {
		return c.publishCorrective(ctx, out, "None of the requested invocations were dispatched:", []string{derr.Error()})
	}

	names := make([]string, len(b.Requests))
	for i, r := range b.Requests {
		names[i] = r.Name
	}
	c.record(ctx, db.JournalEntry{
		BatchID:    b.ID,
		Originator: b.Originator,
		Session:    b.Session,
		Kind:       db.KindSubmitted,
		Index:      db.NoIndex,
		Detail:     map[string]interface{}{"responseId": out.ResponseID, "requests": names},
	})
	return c.dispatchBatch(ctx, b)
}

// dispatchBatch publishes every worker-bound request and resolves built-in
// ones in process. A batch made only of built-ins completes here.
func (c *Coordinator) dispatchBatch(ctx context.Context, b *dispatch.Batch) error {
	var errs []error
	for _, r := range b.Requests {
		if r.Capability == registry.BuiltinCapability {
			continue
		}
		if err := c.publisher.PublishRequest(ctx, events.NewRequestEvent(r, c.now())); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish request batch=%s index=%d: %v", logPrefix, r.BatchID, r.Index, err))
			errs = append(errs, err)
		}
	}

	var completed *dispatch.Batch
	for _, r := range b.Requests {
		if r.Capability != registry.BuiltinCapability {
			continue
		}
		res := c.runBuiltin(b.Session, r)
		snap, derr := c.correlator.Resolve(dispatch.ResolveInput{
			BatchID:    r.BatchID,
			Index:      r.Index,
			Name:       r.Name,
			Originator: r.Originator,
			Result:     res,
		})
		if derr != nil {
			continue
		}
		c.record(ctx, db.JournalEntry{
			BatchID:    r.BatchID,
			Originator: r.Originator,
			Session:    b.Session,
			Kind:       db.KindResolved,
			Index:      r.Index,
			Name:       r.Name,
			Detail:     map[string]interface{}{"builtin": true, "error": res.Error},
		})
		if snap != nil {
			completed = snap
		}
	}

	if completed != nil {
		if err := c.finalize(ctx, completed.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleResult correlates a worker result. Rejected results are logged,
// journaled when they are late or duplicate, and returned as *dispatch.Error.
func (c *Coordinator) HandleResult(ctx context.Context, msg *events.ResultMessage) error {
	if msg == nil {
		return fmt.Errorf("%s - result message is required", logPrefix)
	}
	originator := msg.Originator
	if originator == "" {
		slog.Warn(fmt.Sprintf("%s - dropped result batch=%s index=%d without originator", logPrefix, msg.BatchID, msg.Index))
		return dispatch.NewError(dispatch.CodeInvalidArgument, "result carries no originator")
	}

	snap, derr := c.correlator.Resolve(dispatch.ResolveInput{
		BatchID:    msg.BatchID,
		Index:      msg.Index,
		Name:       msg.Name,
		Originator: originator,
		Result:     msg.Result(),
	})
	if derr != nil {
		if derr.Code == dispatch.CodeLateResult || derr.Code == dispatch.CodeDuplicateResult {
			c.record(ctx, db.JournalEntry{
				BatchID:    msg.BatchID,
				Originator: originator,
				Kind:       db.KindLate,
				Index:      msg.Index,
				Name:       msg.Name,
				Detail:     map[string]interface{}{"code": derr.Code},
			})
		}
		return derr
	}

	c.record(ctx, db.JournalEntry{
		BatchID:    msg.BatchID,
		Originator: originator,
		Kind:       db.KindResolved,
		Index:      msg.Index,
		Name:       msg.Name,
		Detail:     map[string]interface{}{"error": msg.Error, "artifacts": len(msg.Artifacts)},
	})
	if snap == nil {
		return nil
	}
	return c.finalize(ctx, snap.ID)
}

// finalize folds a completed batch into the next model turn. The batch is
// discarded only after the turn is published; on failure it is released for
// the next sweep to retry. A batch already finalized elsewhere is not an error.
func (c *Coordinator) finalize(ctx context.Context, batchID string) error {
	n, derr := c.correlator.Claim(batchID)
	if derr != nil {
		if derr.Code == dispatch.CodeFinalizing || derr.Code == dispatch.CodeUnknownBatch {
			slog.Debug(fmt.Sprintf("%s - batch %s finalized elsewhere: %s", logPrefix, batchID, derr.Code))
			return nil
		}
		return derr
	}

	err := c.publisher.PublishTurn(ctx, &events.TurnEvent{
		Originator: n.Originator,
		Session:    n.Session,
		BatchID:    n.BatchID,
		Text:       n.Text,
		Artifacts:  n.Artifacts,
		Reinvoke:   true,
		Timestamp:  c.timestamp(),
	})
	if err != nil {
		c.correlator.Release(batchID)
		return fmt.Errorf("%s - failed to publish next turn for batch %s: %w", logPrefix, batchID, err)
	}
	if _, derr := c.correlator.Finalize(batchID); derr != nil {
		slog.Warn(fmt.Sprintf("%s - batch %s vanished after publish: %v", logPrefix, batchID, derr))
	}

	c.record(ctx, db.JournalEntry{
		BatchID:    n.BatchID,
		Originator: n.Originator,
		Session:    n.Session,
		Kind:       db.KindFinalized,
		Index:      db.NoIndex,
		Detail:     map[string]interface{}{"timedOut": n.TimedOut, "failed": n.Failed, "text": n.Text},
	})
	slog.Info(fmt.Sprintf("%s - batch %s folded into next turn (timedOut=%d failed=%d)", logPrefix, batchID, n.TimedOut, n.Failed))
	return nil
}

// publishCorrective reports a problem with the model's own output back to it.
func (c *Coordinator) publishCorrective(ctx context.Context, out *events.ModelOutput, lead string, msgs []string) error {
	err := c.publisher.PublishTurn(ctx, &events.TurnEvent{
		Originator: c.originator,
		Session:    out.Session,
		ResponseID: out.ResponseID,
		Text:       lead + "\n- " + strings.Join(msgs, "\n- "),
		Reinvoke:   true,
		Corrective: true,
		Errors:     msgs,
		Timestamp:  c.timestamp(),
	})
	if err != nil {
		return fmt.Errorf("%s - failed to publish corrective turn for %s: %w", logPrefix, out.ResponseID, err)
	}
	return nil
}

// record writes a journal entry. Journal failures never affect dispatch.
func (c *Coordinator) record(ctx context.Context, e db.JournalEntry) {
	e.Created = c.now()
	if err := c.journal.Record(ctx, e); err != nil {
		slog.Error(fmt.Sprintf("%s - journal write failed: %v", logPrefix, err))
	}
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}
