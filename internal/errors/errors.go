package errors

import "errors"

// Centralized sentinel errors for the application. Services return these
// without knowing about HTTP; the API layer maps them to status codes with
// errors.Is.

var (
	// ErrNotFound signifies that a requested resource could not be located.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that client-provided input failed validation.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current
	// state of a resource.
	ErrConflict = errors.New("resource conflict")

	// ErrInternal signifies an unexpected server-side error; details are
	// logged, never sent to the client.
	ErrInternal = errors.New("internal server error")
)
