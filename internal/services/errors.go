// Package services defines the business logic of the rate pipeline: rule
// mutations, change detection, job dispatch and rate reads.
// This file centralizes the service-level error values so that callers can
// classify failures with errors.Is.
//
// Translation into HTTP status codes and stable error codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed rule input or references to
	// catalog entries that do not exist. Nothing is persisted or enqueued.
	ErrValidation = errors.New("validation failed")

	// ErrDerivationCycle is returned when a derived setting would close a
	// cycle between rate plans. It wraps ErrValidation.
	ErrDerivationCycle = fmt.Errorf("%w: derived rate plans would form a cycle", ErrValidation)

	// ErrNotFound indicates that the addressed rule or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrHotelNotFound indicates that the hotel partition does not exist.
	ErrHotelNotFound = errors.New("hotel not found")

	// ErrQueueUnavailable is returned when the recomputation job could not be
	// enqueued. The rule write is rolled back with it, so the caller must
	// retry; the mutation is not safe for read-after-write.
	ErrQueueUnavailable = errors.New("recomputation queue unavailable")

	// ErrInvalidJobState is returned when an operator action does not apply
	// to the job's current status (e.g. requeueing a completed job).
	ErrInvalidJobState = errors.New("invalid job state")
)
