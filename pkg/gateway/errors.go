package gateway

import "github.com/pkg/errors"

// Stable error kinds surfaced to API callers. Handlers map these onto HTTP
// status codes; everything else is an internal failure.
var (
	ErrInvalidName        = errors.New("invalid session name: only alphanumeric, underscore, hyphen allowed")
	ErrAlreadyExists      = errors.New("session already exists")
	ErrNotFound           = errors.New("session not found")
	ErrPairingUnavailable = errors.New("pairing code not available")
)
