package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	// SubjectAnnounce carries capability liveness announcements.
	SubjectAnnounce = "capabilities.announce"

	// TimeoutToken is the last token of a capability's timeout subject.
	TimeoutToken = "timeout"
)

// OutputSubject carries model output buffers for an originator.
func OutputSubject(originator string) string {
	return coordinatorSubject(originator, "output")
}

// ResultsSubject carries worker results for an originator's batches.
func ResultsSubject(originator string) string {
	return coordinatorSubject(originator, "results")
}

// ControlSubject is the request/reply control plane of an originator.
func ControlSubject(originator string) string {
	return coordinatorSubject(originator, "control")
}

// TurnSubject receives next-turn submissions.
func TurnSubject(originator string) string {
	return coordinatorSubject(originator, "turn")
}

// CompleteSubject receives "no further action" completions.
func CompleteSubject(originator string) string {
	return coordinatorSubject(originator, "complete")
}

// StreamSubject receives incremental stream events.
func StreamSubject(originator string) string {
	return coordinatorSubject(originator, "stream")
}

func coordinatorSubject(originator, kind string) string {
	return fmt.Sprintf("coordinator.%s.%s", originator, kind)
}

// RequestSubject builds the subject a capability action listens on.
func RequestSubject(capability, action string) string {
	return fmt.Sprintf("capability.%s.%s", capability, action)
}

// TimeoutSubject builds the subject a capability receives timeout
// notifications on.
func TimeoutSubject(capability string) string {
	return fmt.Sprintf("capability.%s.%s", capability, TimeoutToken)
}

// ValidToken reports whether s can be used as a single subject token.
func ValidToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}
