package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/coordinator/pkg/coordinator"
	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// Error codes produced by the control plane itself.
const (
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL_ERROR"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dispatcher routes control-plane requests to the coordinator.
type Dispatcher struct {
	coord  *coordinator.Coordinator
	checks map[string]HealthCheck
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Coordinator *coordinator.Coordinator
	// Checks are run by the health method, keyed by dependency name.
	Checks map[string]HealthCheck
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	return &Dispatcher{coord: params.Coordinator, checks: params.Checks}
}

// Dispatch routes a request to the appropriate method and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *ControlRequest) *ControlResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case "capabilities":
		return d.handleCapabilities(req)
	case "describe":
		return d.handleDescribe(req)
	case "batches":
		return d.handleBatches(req)
	case "sweep":
		return d.handleSweep(ctx, req)
	case "forget":
		return d.handleForget(req)
	case "health":
		return d.handleHealth(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

func (d *Dispatcher) handleCapabilities(req *ControlRequest) *ControlResponse {
	var input SessionParams
	if err := decodeParams(req, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse capabilities params", false)
	}
	session := sessionOf(req, input.Session)

	gate := d.coord.Gate()
	available := d.coord.Registry().Available()
	views := make([]CapabilityView, len(available))
	for i, s := range available {
		views[i] = CapabilityView{
			Capability:  s.Capability,
			Version:     s.Version,
			Description: s.Description,
			Actions:     s.Actions,
			State:       string(gate.State(session, s.Capability)),
			ExpiresAt:   s.ExpiresAt,
		}
	}
	return okResponse(req.ID, map[string]interface{}{
		"session":      session,
		"open":         gate.OpenCapabilities(session),
		"capabilities": views,
	})
}

func (d *Dispatcher) handleDescribe(req *ControlRequest) *ControlResponse {
	var input DescribeParams
	if err := decodeParams(req, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse describe params", false)
	}
	if input.Capability == "" {
		return errorResponse(req.ID, CodeInvalidArgument, "capability is required", false)
	}
	session := sessionOf(req, input.Session)

	desc, rerr := d.coord.Registry().Describe(input.Capability)
	if rerr != nil {
		return errorToResponse(req.ID, rerr)
	}
	open := d.coord.Gate().IsOpen(session, input.Capability)
	if !open {
		stripped := desc.WithoutDetail()
		desc = &stripped
	}
	return okResponse(req.ID, map[string]interface{}{"descriptor": desc, "open": open})
}

func (d *Dispatcher) handleBatches(req *ControlRequest) *ControlResponse {
	var input BatchesParams
	if err := decodeParams(req, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse batches params", false)
	}
	corr := d.coord.Correlator()
	if input.BatchID != "" {
		b, ok := corr.Get(input.BatchID)
		if !ok {
			return errorResponse(req.ID, dispatch.CodeUnknownBatch, fmt.Sprintf("no live batch %s", input.BatchID), false)
		}
		return okResponse(req.ID, b)
	}
	return okResponse(req.ID, map[string]interface{}{"batches": corr.List()})
}

func (d *Dispatcher) handleSweep(ctx context.Context, req *ControlRequest) *ControlResponse {
	report, err := d.coord.Sweep(ctx, d.coord.Now())
	if err != nil {
		// Publication failures; the sweep itself has already been applied.
		slog.Warn(fmt.Sprintf("%s - sweep completed with errors: %v", logPrefix, err))
	}
	return okResponse(req.ID, report)
}

func (d *Dispatcher) handleForget(req *ControlRequest) *ControlResponse {
	var input SessionParams
	if err := decodeParams(req, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse forget params", false)
	}
	session := sessionOf(req, input.Session)
	if session == "" {
		return errorResponse(req.ID, CodeInvalidArgument, "session is required", false)
	}
	d.coord.Gate().Forget(session)
	return okResponse(req.ID, map[string]interface{}{"session": session, "forgotten": true})
}

func (d *Dispatcher) handleHealth(ctx context.Context, req *ControlRequest) *ControlResponse {
	status := "ok"
	deps := make(map[string]string, len(d.checks))
	for name, check := range d.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	return okResponse(req.ID, map[string]interface{}{
		"status":     status,
		"originator": d.coord.Originator(),
		"stats":      d.coord.Stats(),
		"checks":     deps,
	})
}

// --- helpers ---

func decodeParams(req *ControlRequest, v interface{}) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

func sessionOf(req *ControlRequest, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if req.Ctx != nil {
		return req.Ctx.SessionID
	}
	return ""
}

func okResponse(id string, result interface{}) *ControlResponse {
	return &ControlResponse{ID: id, Ok: true, Result: result}
}

func errorResponse(id, code, message string, retryable bool) *ControlResponse {
	return &ControlResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func errorToResponse(id string, err error) *ControlResponse {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		return errorResponse(id, regErr.Code, regErr.Message, regErr.Code == CodeInternal)
	}
	var dispErr *dispatch.Error
	if errors.As(err, &dispErr) {
		return errorResponse(id, dispErr.Code, dispErr.Message, dispErr.Code == CodeInternal)
	}
	return errorResponse(id, CodeInternal, err.Error(), true)
}
