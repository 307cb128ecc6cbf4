package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds from the error-handling taxonomy. Concrete error
// values wrap one of these via errors.Is so callers can branch on kind
// without caring about the carrying type.
var (
	ErrNotAllowed          = errors.New("not allowed")
	ErrRecordNotFound      = errors.New("record not found")
	ErrRelationshipNotFound = errors.New("relationship not found")
	ErrQueueError          = errors.New("queue error")
	ErrInvalidInput        = errors.New("invalid input")
)

// ServerError carries an upstream rejection's parsed error payload.
type ServerError struct {
	StatusCode int
	Detail     string
	Payload    map[string]any
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server error (%d)", e.StatusCode)
}

// SchemaError reports an invalid model/relationship definition discovered
// at Schema.Validate time, or an attribute JSON Schema document that
// failed to compile in Schema.CompileAttributeSchemas.
type SchemaError struct {
	Model        string
	Relationship string
	Reason       string
}

func (e *SchemaError) Error() string {
	if e.Relationship != "" {
		return fmt.Sprintf("schema error: %s.%s: %s", e.Model, e.Relationship, e.Reason)
	}
	return fmt.Sprintf("schema error: %s: %s", e.Model, e.Reason)
}

// NotAllowedError reports a policy cap (maxRequestsPerFetch /
// maxRequestsPerTransform) exceeded before any request was dispatched.
type NotAllowedError struct {
	Policy string
	Limit  int
	Actual int
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("%s exceeds limit: %d > %d", e.Policy, e.Actual, e.Limit)
}

func (e *NotAllowedError) Is(target error) bool {
	return target == ErrNotAllowed
}

// QueueError reports ActionQueue exhaustion or cancellation.
type QueueError struct {
	Reason string
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue error: %s", e.Reason)
}

func (e *QueueError) Is(target error) bool {
	return target == ErrQueueError
}
