// Package registry tracks the capabilities that are alive process-wide and,
// per session, which of them are open.
package registry

// Built-in privileged capability. Changing a capability's session state is
// itself an invocation of this capability.
const (
	BuiltinCapability = "capabilities"
	ActionChangeState = "change_state"

	ParamCapability = "capability"
	ParamState      = "state"
)

// Error codes.
const (
	CodeUnknownCapability = "UNKNOWN_CAPABILITY"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
)

// Parameter describes one named action parameter.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Action is one operation a capability offers.
type Action struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Detail is only shown once the capability is open for the session.
	Detail     string      `json:"detail,omitempty" yaml:"detail,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// Scopes are the authorization scopes a caller must hold.
	Scopes   []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Examples []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Descriptor is one announced version of a capability. It is immutable once
// registered.
type Descriptor struct {
	Capability  string   `json:"capability" yaml:"capability"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Detail      string   `json:"detail,omitempty" yaml:"detail,omitempty"`
	Actions     []Action `json:"actions" yaml:"actions"`
}

// Action returns the named action, or nil.
func (d *Descriptor) Action(name string) *Action {
	for i := range d.Actions {
		if d.Actions[i].Name == name {
			return &d.Actions[i]
		}
	}
	return nil
}

// ActionNames returns the action names in declaration order.
func (d *Descriptor) ActionNames() []string {
	names := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		names[i] = a.Name
	}
	return names
}

// Announcement is a liveness announcement published by a capability worker.
type Announcement struct {
	Descriptor `yaml:",inline"`
	// TTLSeconds overrides the default liveness TTL when positive.
	TTLSeconds int `json:"ttlSeconds,omitempty" yaml:"ttlSeconds,omitempty"`
}

// Summary is the listing view of a live capability.
type Summary struct {
	Capability  string   `json:"capability"`
	Version     string   `json:"version"`
	Versions    []string `json:"versions"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
	Pinned      bool     `json:"pinned,omitempty"`
	ExpiresAt   string   `json:"expiresAt,omitempty"`
}

// Error is a structured error from the registry.
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
