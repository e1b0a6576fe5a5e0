// Package errs defines the error taxonomy shared across the orchestrator's
// Core packages. Each kind is a sentinel for errors.Is classification;
// ValidationError wraps a sentinel with the context a caller needs to act
// on it (which project, which field, which underlying cause).
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig covers missing projects, unresolved plugins, and invalid YAML.
	// Surfaced to the caller; never suppressed.
	ErrConfig = errors.New("config error")

	// ErrTracker covers issue-fetch failures. Aborts a spawn cleanly before
	// any resource is allocated.
	ErrTracker = errors.New("tracker error")

	// ErrResource covers id-reservation exhaustion and workspace creation
	// failure. Callers roll back whatever was created before the failure.
	ErrResource = errors.New("resource error")

	// ErrProbe covers a transient plugin probe failure during a poll tick.
	// Logged; current state is preserved, never coerced forward.
	ErrProbe = errors.New("probe error")

	// ErrWriteback covers a tracker comment failure. Fire-and-forget: logged,
	// never blocks the state machine.
	ErrWriteback = errors.New("writeback error")

	// ErrReaction covers a send-to-agent dispatch failure. The attempt
	// counter still advances; the next tick retries.
	ErrReaction = errors.New("reaction failure")

	// ErrSignature names a webhook signature verification failure. The
	// webhook receiver answers such a delivery with HTTP 401 itself and
	// does not return this sentinel.
	ErrSignature = errors.New("signature error")

	// ErrDuplicateDelivery names a webhook delivery id already seen within
	// the dedup window. The Trigger Engine skips such a delivery silently
	// (HTTP 200) and does not return this sentinel.
	ErrDuplicateDelivery = errors.New("duplicate delivery")

	// ErrDuplicateSession names an active session already existing for the
	// (projectId, issueId) pair. The Trigger Engine declines to spawn in
	// that case and does not return this sentinel.
	ErrDuplicateSession = errors.New("duplicate session")
)

// ValidationError wraps one of the sentinels above with the context a log
// line or API response needs: which component, which id, which field.
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q: field %q: %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError. component is a free-form
// noun ("project", "plugin", "trigger"); field may be empty.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}
