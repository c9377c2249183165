package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a uniqueness or write-once constraint was hit
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrLockNotAcquired: a row or key lock could not be taken
// - ErrSerialization: the database aborted the transaction to preserve isolation
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrSerialization   = errors.New("serialization failure")
	ErrUnavailable     = errors.New("unavailable")
)
