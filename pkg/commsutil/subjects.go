package commsutil

import "strings"

// Default COMMS subjects.
const (
	SubjectGateway         = "gateway.editor.v1"
	SubjectOperationEvents = "gateway.operations"
)

// BuildOperationSubject builds the per-status operation event subject, e.g.
// "gateway.operations.completed".
func BuildOperationSubject(base, status string) string {
	return base + "." + sanitizeToken(status)
}

// sanitizeToken makes s usable as a single subject token.
func sanitizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
