package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned when a transition requires a pending record.
	ErrNotPending = errors.New("notification is not pending")
	// ErrNotClaimed is returned when completing a record that is not processing.
	ErrNotClaimed = errors.New("notification is not claimed")
	// ErrBatchTooLarge is returned when an id batch exceeds MaxBatchIDs.
	ErrBatchTooLarge = errors.New("id batch exceeds store limit")
	// ErrJourneyInactive is returned when scheduling work for an inactive journey.
	ErrJourneyInactive = errors.New("journey is not active")
)
