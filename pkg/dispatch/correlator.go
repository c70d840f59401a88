package dispatch

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/coordinator/pkg/grammar"
	"github.com/morezero/coordinator/pkg/registry"
	"github.com/morezero/coordinator/pkg/semver"
)

const logPrefix = "dispatch:correlator"

const (
	defaultTimeout         = 180 * time.Second
	defaultStaleSweepLimit = 10
)

// Catalog resolves capability actions to typed descriptors.
type Catalog interface {
	Lookup(capability, action, rng string) (*registry.Resolved, *registry.Error)
}

// SessionGate reports whether a capability is open for a session.
type SessionGate interface {
	IsOpen(session, capability string) bool
}

// Config holds correlator configuration.
type Config struct {
	// Timeout is the age at which unresolved requests are timed out.
	Timeout time.Duration
	// StaleSweepLimit is how many no-op sweeps a batch survives.
	StaleSweepLimit int
}

// DefaultConfig returns the default correlator configuration.
func DefaultConfig() Config {
	return Config{Timeout: defaultTimeout, StaleSweepLimit: defaultStaleSweepLimit}
}

type batch struct {
	id          string
	originator  string
	session     string
	created     time.Time
	requests    []*Request
	pending     int
	staleSweeps int
	// finalizing is set while a claimed narrative is being delivered.
	finalizing bool
}

// retiredBatch remembers enough of a discarded batch that had timeouts to
// classify a worker reply arriving after it.
type retiredBatch struct {
	originator string
	names      []string
	timedOut   []bool
	sweeps     int
}

func retire(b *batch) *retiredBatch {
	r := &retiredBatch{
		originator: b.originator,
		names:      make([]string, len(b.requests)),
		timedOut:   make([]bool, len(b.requests)),
	}
	late := false
	for i, req := range b.requests {
		r.names[i] = req.Name
		if req.Result != nil && req.Result.TimedOut {
			r.timedOut[i] = true
			late = true
		}
	}
	if !late {
		return nil
	}
	return r
}

func (b *batch) snapshot() *Batch {
	out := &Batch{
		ID:          b.id,
		Originator:  b.originator,
		Session:     b.session,
		Created:     b.created,
		Requests:    make([]Request, len(b.requests)),
		Pending:     b.pending,
		StaleSweeps: b.staleSweeps,
	}
	for i, r := range b.requests {
		out.Requests[i] = r.clone()
	}
	return out
}

func (r *Request) clone() Request {
	c := *r
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return c
}

// Correlator owns the batch table.
type Correlator struct {
	mu      sync.Mutex
	batches map[string]*batch
	retired map[string]*retiredBatch
	catalog Catalog
	gate    SessionGate
	config  Config
	now     func() time.Time
	newID   func() string
}

// NewCorrelatorParams holds parameters for NewCorrelator.
type NewCorrelatorParams struct {
	Catalog Catalog
	Gate    SessionGate
	Config  Config
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewCorrelator creates a new Correlator.
func NewCorrelator(params NewCorrelatorParams) *Correlator {
	cfg := params.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.StaleSweepLimit <= 0 {
		cfg.StaleSweepLimit = defaultStaleSweepLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		batches: make(map[string]*batch),
		retired: make(map[string]*retiredBatch),
		catalog: params.Catalog,
		gate:    params.Gate,
		config:  cfg,
		now:     now,
		newID:   uuid.NewString,
	}
}

// Submit validates every directive and, only if all pass, stores a new batch
// and returns its snapshot. Nothing is stored on failure.
func (c *Correlator) Submit(in SubmitInput) (*Batch, *Error) {
	if in.Originator == "" {
		return nil, NewError(CodeInvalidArgument, "originator is required")
	}
	if len(in.Directives) == 0 {
		return nil, NewError(CodeInvalidArgument, "no directives to dispatch")
	}

	b := &batch{
		id:         c.newID(),
		originator: in.Originator,
		session:    in.Session,
		requests:   make([]*Request, 0, len(in.Directives)),
	}
	for i, d := range in.Directives {
		version, err := c.admit(in, d)
		if err != nil {
			err.Message = fmt.Sprintf("directive %d (%s): %s", i, d.Name(), err.Message)
			slog.Warn(fmt.Sprintf("%s - rejected batch from %s: %s", logPrefix, in.Originator, err.Error()))
			return nil, err
		}
		params := make(map[string]string, len(d.Parameters))
		for k, v := range d.Parameters {
			params[k] = v
		}
		b.requests = append(b.requests, &Request{
			BatchID:    b.id,
			Index:      i,
			Capability: d.Capability,
			Action:     d.Action,
			Name:       d.Name(),
			Version:    version,
			Parameters: params,
			Originator: in.Originator,
			Session:    in.Session,
		})
	}
	b.pending = len(b.requests)
	b.created = c.now()

	c.mu.Lock()
	c.batches[b.id] = b
	snap := b.snapshot()
	c.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - submitted batch %s from %s with %d requests", logPrefix, b.id, in.Originator, len(b.requests)))
	return snap, nil
}

// admit checks one directive against the catalog, the session gate and the
// caller's scopes. It returns the resolved version.
func (c *Correlator) admit(in SubmitInput, d grammar.Invocation) (string, *Error) {
	if !semver.ValidateRange(d.Version) {
		return "", NewError(CodeInvalidArgument, fmt.Sprintf("invalid version range %q", d.Version))
	}
	if c.catalog == nil {
		return "", NewError(CodeUnknownCapability, "no capability catalog configured")
	}
	res, rerr := c.catalog.Lookup(d.Capability, d.Action, d.Version)
	if rerr != nil {
		return "", NewError(rerr.Code, rerr.Message)
	}
	if c.gate != nil && !c.gate.IsOpen(in.Session, d.Capability) {
		return "", NewError(CodeCapabilityClosed, fmt.Sprintf("capability %s is not open for this session", d.Capability))
	}
	if missing := missingScopes(res.Action.Scopes, in.Scopes); len(missing) > 0 {
		return "", NewError(CodeForbidden, fmt.Sprintf("missing scopes: %s", strings.Join(missing, ", ")))
	}
	for _, p := range res.Action.Parameters {
		if _, ok := d.Parameters[p.Name]; p.Required && !ok {
			return "", NewError(CodeInvalidArgument, fmt.Sprintf("missing required parameter %q", p.Name))
		}
	}
	return res.Descriptor.Version, nil
}

func missingScopes(required, held []string) []string {
	have := make(map[string]bool, len(held))
	for _, s := range held {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

// Resolve stores a worker result. It returns the batch snapshot when this
// result brought the batch to zero pending, and nil otherwise. Rejected
// results leave the batch untouched.
func (c *Correlator) Resolve(in ResolveInput) (*Batch, *Error) {
	c.mu.Lock()
	b, err := c.resolveLocked(in)
	var snap *Batch
	if err == nil && b.pending == 0 {
		snap = b.snapshot()
	}
	c.mu.Unlock()

	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped result batch=%s index=%d name=%s: %s", logPrefix, in.BatchID, in.Index, in.Name, err.Error()))
		return nil, err
	}
	if snap != nil {
		slog.Info(fmt.Sprintf("%s - batch %s resolved", logPrefix, in.BatchID))
	}
	return snap, nil
}

func (c *Correlator) resolveLocked(in ResolveInput) (*batch, *Error) {
	b, ok := c.batches[in.BatchID]
	if !ok {
		if r, ok := c.retired[in.BatchID]; ok {
			return nil, r.classify(in)
		}
		return nil, NewError(CodeUnknownBatch, fmt.Sprintf("no live batch %s", in.BatchID))
	}
	if in.Originator != b.originator {
		return nil, NewError(CodeOriginatorMismatch, fmt.Sprintf("batch %s belongs to %s, not %s", b.id, b.originator, in.Originator))
	}
	if in.Index < 0 || in.Index >= len(b.requests) {
		return nil, NewError(CodeIndexOutOfRange, fmt.Sprintf("index %d outside batch of %d", in.Index, len(b.requests)))
	}
	req := b.requests[in.Index]
	if in.Name != req.Name {
		return nil, NewError(CodeNameMismatch, fmt.Sprintf("index %d is %s, not %s", in.Index, req.Name, in.Name))
	}
	if req.Result != nil {
		if req.Result.TimedOut {
			return nil, NewError(CodeLateResult, fmt.Sprintf("index %d already timed out", in.Index))
		}
		return nil, NewError(CodeDuplicateResult, fmt.Sprintf("index %d already resolved", in.Index))
	}

	res := in.Result
	req.Result = &res
	b.pending--
	return b, nil
}

// classify reports why a reply for a discarded batch is rejected.
func (r *retiredBatch) classify(in ResolveInput) *Error {
	switch {
	case in.Originator != r.originator:
		return NewError(CodeOriginatorMismatch, fmt.Sprintf("batch %s belongs to %s, not %s", in.BatchID, r.originator, in.Originator))
	case in.Index < 0 || in.Index >= len(r.names):
		return NewError(CodeIndexOutOfRange, fmt.Sprintf("index %d outside batch of %d", in.Index, len(r.names)))
	case in.Name != r.names[in.Index]:
		return NewError(CodeNameMismatch, fmt.Sprintf("index %d is %s, not %s", in.Index, r.names[in.Index], in.Name))
	case r.timedOut[in.Index]:
		return NewError(CodeLateResult, fmt.Sprintf("index %d timed out before batch %s was finalized", in.Index, in.BatchID))
	}
	return NewError(CodeDuplicateResult, fmt.Sprintf("index %d of finalized batch %s already resolved", in.Index, in.BatchID))
}

// Sweep times out every unresolved request of every batch at least as old as
// the timeout. The synthetic results count toward completion exactly as
// resolved ones do. Completed batches still awaiting finalization are
// reported again on every sweep, counted as stale, and deleted once they
// exceed the stale sweep limit. Retired batches age out on the same limit.
func (c *Correlator) Sweep(now time.Time) *SweepOutcome {
	out := &SweepOutcome{}

	c.mu.Lock()
	for id, r := range c.retired {
		r.sweeps++
		if r.sweeps > c.config.StaleSweepLimit {
			delete(c.retired, id)
		}
	}
	for id, b := range c.batches {
		if b.finalizing {
			continue
		}
		if b.pending == 0 {
			b.staleSweeps++
			if b.staleSweeps > c.config.StaleSweepLimit {
				c.discardLocked(b)
				out.AgedOut = append(out.AgedOut, id)
				continue
			}
			out.Completed = append(out.Completed, b.snapshot())
			continue
		}
		if now.Sub(b.created) < c.config.Timeout {
			continue
		}

		for _, req := range b.requests {
			if req.Result != nil {
				continue
			}
			req.Result = &Result{
				TimedOut: true,
				Error:    fmt.Sprintf("%s timed out after %s", req.Name, c.config.Timeout),
			}
			b.pending--
			out.Timeouts = append(out.Timeouts, req.clone())
		}
		out.Completed = append(out.Completed, b.snapshot())
	}
	c.mu.Unlock()

	sort.Slice(out.Completed, func(i, j int) bool { return out.Completed[i].ID < out.Completed[j].ID })

	sort.Slice(out.Timeouts, func(i, j int) bool {
		if out.Timeouts[i].BatchID != out.Timeouts[j].BatchID {
			return out.Timeouts[i].BatchID < out.Timeouts[j].BatchID
		}
		return out.Timeouts[i].Index < out.Timeouts[j].Index
	})
	for _, t := range out.Timeouts {
		slog.Warn(fmt.Sprintf("%s - request timed out batch=%s index=%d name=%s", logPrefix, t.BatchID, t.Index, t.Name))
	}
	for _, id := range out.AgedOut {
		slog.Warn(fmt.Sprintf("%s - aged out stale batch %s", logPrefix, id))
	}
	return out
}

// discardLocked removes b, keeping a retired record when it had timeouts.
func (c *Correlator) discardLocked(b *batch) {
	delete(c.batches, b.id)
	if r := retire(b); r != nil {
		c.retired[b.id] = r
	}
}

// Claim builds the narrative of a batch and marks it as being finalized, so
// concurrent callers and sweeps leave it alone. The claimant must follow with
// Finalize once the narrative is delivered, or Release if delivery failed.
func (c *Correlator) Claim(batchID string) (*Narrative, *Error) {
	c.mu.Lock()
	b, ok := c.batches[batchID]
	if !ok {
		c.mu.Unlock()
		return nil, NewError(CodeUnknownBatch, fmt.Sprintf("no live batch %s", batchID))
	}
	if b.finalizing {
		c.mu.Unlock()
		return nil, NewError(CodeFinalizing, fmt.Sprintf("batch %s is already being finalized", batchID))
	}
	b.finalizing = true
	pending := b.pending
	n := buildNarrative(b)
	c.mu.Unlock()

	if pending > 0 {
		slog.Warn(fmt.Sprintf("%s - finalizing batch %s with %d pending requests", logPrefix, batchID, pending))
	}
	return n, nil
}

// Release returns a claimed batch to the table so a later sweep retries it.
func (c *Correlator) Release(batchID string) {
	c.mu.Lock()
	if b, ok := c.batches[batchID]; ok {
		b.finalizing = false
	}
	c.mu.Unlock()
	slog.Warn(fmt.Sprintf("%s - released batch %s for retry", logPrefix, batchID))
}

// Finalize folds every request's result into one narrative in submission
// order and discards the batch.
func (c *Correlator) Finalize(batchID string) (*Narrative, *Error) {
	c.mu.Lock()
	b, ok := c.batches[batchID]
	var n *Narrative
	if ok {
		n = buildNarrative(b)
		c.discardLocked(b)
	}
	c.mu.Unlock()

	if !ok {
		return nil, NewError(CodeUnknownBatch, fmt.Sprintf("no live batch %s", batchID))
	}
	return n, nil
}

func buildNarrative(b *batch) *Narrative {
	n := &Narrative{BatchID: b.id, Originator: b.originator, Session: b.session}

	var sb strings.Builder
	for _, req := range b.requests {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", req.Index, req.Name)
		switch res := req.Result; {
		case res == nil:
			sb.WriteString(" did not return a result.")
		case res.TimedOut:
			n.TimedOut++
			sb.WriteString(" timed out and returned no result.")
		case res.Error != "":
			n.Failed++
			fmt.Fprintf(&sb, " failed: %s", res.Error)
		default:
			sb.WriteString(" returned:\n")
			sb.WriteString(res.Text)
		}
		if req.Result == nil {
			continue
		}
		for _, a := range req.Result.Artifacts {
			ref := a.URL
			if ref == "" {
				ref = "inline"
			}
			fmt.Fprintf(&sb, "\nfile %s (%s) %s", a.Name, a.MimeType, ref)
			n.Artifacts = append(n.Artifacts, a)
		}
	}
	n.Text = sb.String()
	return n
}

// TimeoutCapability returns the capability whose timeout destination should
// receive a notification for name.
func TimeoutCapability(name string) string {
	ref, err := semver.ParseInvocationRef(name)
	if err != nil {
		return FallbackCapability
	}
	return ref.Capability
}

// List returns summaries of every live batch, oldest first.
func (c *Correlator) List() []Summary {
	c.mu.Lock()
	out := make([]Summary, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, Summary{
			ID:          b.id,
			Originator:  b.originator,
			Session:     b.session,
			Created:     b.created,
			Size:        len(b.requests),
			Pending:     b.pending,
			StaleSweeps: b.staleSweeps,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a snapshot of one batch.
func (c *Correlator) Get(batchID string) (*Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[batchID]
	if !ok {
		return nil, false
	}
	return b.snapshot(), true
}
