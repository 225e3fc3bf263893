package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrForbidden       = errors.New("chat: session belongs to another user")
	ErrPersistence     = errors.New("chat: persist thread")
)

// Violation is one broken rule inside a batch. Index is the position in the
// submitted messages array, or -1 when the problem is not tied to a message.
type Violation struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError rejects a whole batch because of tool-message shape.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return "chat: invalid tool messages: " + joinViolations(e.Violations)
}

// SchemaError rejects a request body that does not match the batch schema.
type SchemaError struct {
	Violations []Violation
}

func (e *SchemaError) Error() string {
	return "chat: malformed batch: " + joinViolations(e.Violations)
}

func joinViolations(vs []Violation) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if v.Index >= 0 {
			parts = append(parts, fmt.Sprintf("[%d] %s: %s", v.Index, v.Field, v.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
		}
	}
	return strings.Join(parts, "; ")
}
