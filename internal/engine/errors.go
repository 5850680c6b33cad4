package engine

import "errors"

var (
	// ErrUnknownMatch is returned for operations on unregistered match ids.
	ErrUnknownMatch = errors.New("unknown match")

	// ErrAlreadyProvisioned is returned when Provision is repeated for a
	// match that already holds infrastructure.
	ErrAlreadyProvisioned = errors.New("match already provisioned")
)
