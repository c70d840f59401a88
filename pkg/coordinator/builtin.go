package coordinator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/registry"
)

const builtinLogPrefix = "coordinator:builtin"

// runBuiltin executes a request addressed to the built-in capability.
func (c *Coordinator) runBuiltin(session string, r dispatch.Request) dispatch.Result {
	switch r.Action {
	case registry.ActionChangeState:
		return c.changeState(session, r.Parameters)
	default:
		return dispatch.Result{Error: fmt.Sprintf("unknown built-in action %s", r.Action)}
	}
}

// changeState moves one capability between open and closed for session.
// Opening a capability reveals its detail text to the model.
func (c *Coordinator) changeState(session string, params map[string]string) dispatch.Result {
	name := params[registry.ParamCapability]
	state, ok := registry.ParseState(params[registry.ParamState])
	if !ok {
		return dispatch.Result{Error: fmt.Sprintf("state must be %q or %q, got %q", registry.StateOpen, registry.StateClosed, params[registry.ParamState])}
	}
	if c.gate.AlwaysOpen(name) {
		return dispatch.Result{Text: fmt.Sprintf("%s is always open.", name)}
	}
	if !c.registry.Exists(name) {
		return dispatch.Result{Error: fmt.Sprintf("unknown capability %s", name)}
	}

	set := c.gate.Close
	if state == registry.StateOpen {
		set = c.gate.Open
	}
	if !set(session, name) {
		return dispatch.Result{Text: fmt.Sprintf("%s is already %s.", name, state)}
	}
	slog.Info(fmt.Sprintf("%s - session %s: %s is now %s", builtinLogPrefix, session, name, state))

	if state == registry.StateClosed {
		return dispatch.Result{Text: fmt.Sprintf("%s is now closed.", name)}
	}
	d, rerr := c.registry.Describe(name)
	if rerr != nil {
		// Expired between the existence check and here.
		return dispatch.Result{Text: fmt.Sprintf("%s is now open.", name)}
	}
	return dispatch.Result{Text: describeOpened(d)}
}

func describeOpened(d *registry.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is now open. Its actions are available from the next turn.", d.Capability)
	if d.Detail != "" {
		b.WriteString("\n")
		b.WriteString(d.Detail)
	}
	for _, a := range d.Actions {
		fmt.Fprintf(&b, "\n- %s.%s", d.Capability, a.Name)
		if a.Description != "" {
			fmt.Fprintf(&b, ": %s", a.Description)
		}
		if a.Detail != "" {
			fmt.Fprintf(&b, "\n  %s", a.Detail)
		}
		for _, p := range a.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "\n  param %s (%s%s)", p.Name, p.Type, req)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
		}
	}
	return b.String()
}
