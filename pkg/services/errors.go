package services

import (
	"errors"

	"github.com/codagent/flowkit/pkg/persistence"
)

var (
	// ErrOrderNotFound is returned when an order is not found.
	ErrOrderNotFound = persistence.ErrOrderNotFound

	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrVersionNotFound is returned when a workflow version is not found.
	ErrVersionNotFound = persistence.ErrVersionNotFound

	// ErrRunNotFound is returned when a workflow run is not found.
	ErrRunNotFound = persistence.ErrRunNotFound

	// ErrInvalidDefinition is returned when a version fails publish-time
	// validation.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrMissingPhone is returned when an order payload or inbound message
	// carries no customer phone.
	ErrMissingPhone = errors.New("customer_phone is required")

	// ErrMissingCredential is returned when a credential update carries an
	// empty key.
	ErrMissingCredential = errors.New("api key is required")
)
