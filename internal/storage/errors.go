package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrProofConsumed is returned when an identity proof hash has already been
// consumed by a prior verification.
var ErrProofConsumed = errors.New("storage: proof already consumed")
