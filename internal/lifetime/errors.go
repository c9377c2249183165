package lifetime

import "errors"

var (
	// ErrAlreadyDeactivated is returned when a deactivation targets a fact that
	// has already been superseded. Nothing is written.
	ErrAlreadyDeactivated = errors.New("data lifetime already deactivated")
	// ErrEmptyBatch is returned when a batch operation is given no facts.
	ErrEmptyBatch = errors.New("empty data lifetime batch")
)
