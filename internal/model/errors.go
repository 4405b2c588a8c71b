package model

import "errors"

// Sentinel errors shared across the service. Callers classify failures with
// errors.Is; packages wrap these with fmt.Errorf("pkg: ...: %w", err) so the
// HTTP layer can map them to status codes without string matching.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed or out-of-contract input, such as an
	// embedding with the wrong dimension or a duplicate chunk index in a batch.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthenticated indicates a missing, unknown, or revoked API key.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates an authenticated caller acting outside its team.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation: duplicate team or project
	// name, duplicate chunk index against stored rows, or revoking a key twice.
	ErrConflict = errors.New("conflict")

	// ErrUpstream indicates a collaborator (embedder, extractor) failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrStorage indicates the relational store or vector index failed
	// internally.
	ErrStorage = errors.New("storage failure")
)
