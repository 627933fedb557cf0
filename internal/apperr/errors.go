package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConfigured marks a cell (or shared binding) that names no
	// kernel server; callers must not touch the network in this case.
	ErrNotConfigured = errors.New("no session configured")

	// ErrUnreachable marks a kernel host that could not be reached
	// after the bounded retry budget.
	ErrUnreachable = errors.New("session unreachable")
)
