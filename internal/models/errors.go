package models

import "errors"

var (
	// ErrValidation marks bad caller input, e.g. empty content.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing item, result, user or report.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation marks a uniqueness or foreign-key violation in the store.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrExternalService marks a failed text-generation or fetch call.
	ErrExternalService = errors.New("external service error")
	// ErrPersistence marks a failed store write.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidTransition marks a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
