package state

import "errors"

var (
	// ErrMatchExists is returned when registering an already-known match id.
	ErrMatchExists = errors.New("match already registered")

	// ErrCapacity is returned when the non-ENDED match cap is reached.
	ErrCapacity = errors.New("concurrent match capacity reached")
)
