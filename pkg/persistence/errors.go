// Package persistence provides standardized error types for persistence
// operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrOrderNotFound indicates an order was not found by the given identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrConversationNotFound indicates a conversation was not found.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrWorkflowNotFound indicates a workflow definition was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates a workflow version was not found.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrNoPublishedVersion indicates the tenant has no published workflow version.
	ErrNoPublishedVersion = errors.New("no published workflow version")

	// ErrVersionImmutable indicates an attempt to modify a published version.
	ErrVersionImmutable = errors.New("published version is immutable")

	// ErrRunNotFound indicates a workflow run was not found.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrTimerNotFound indicates a timer was not found.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrTenantNotFound indicates tenant settings were not found.
	ErrTenantNotFound = errors.New("tenant settings not found")
)

// IsNotFound reports whether err is any of the row-missing sentinels. Used
// by callers that treat missing rows as an idempotent no-op.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrTimerNotFound) ||
		errors.Is(err, ErrTenantNotFound)
}
