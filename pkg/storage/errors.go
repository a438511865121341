// Copyright 2025 Certen Protocol

package storage

import (
	"errors"
	"fmt"
)

// Closed set of storage error kinds.
var (
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrNoOp          = errors.New("storage: no-op")
	ErrGeneric       = errors.New("storage: generic backend error")
)

// Entity names a domain type for NotFoundError and related errors.
type Entity string

const (
	EntityDevice     Entity = "device"
	EntityFlightData Entity = "flight_data"
	EntityDataset    Entity = "dataset"
)

// NotFoundError reports that an Entity with a given id does not exist.
type NotFoundError struct {
	Entity Entity
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("storage: %s %q not found", e.Entity, e.ID)
}

// ErrNotFound is the sentinel NotFoundError wraps, so callers can test
// with errors.Is(err, storage.ErrNotFound).
var ErrNotFound = errors.New("storage: not found")

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError for entity/id.
func NewNotFound(entity Entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// MalformedDataError reports a field that failed to decode from the
// backend's native representation.
type MalformedDataError struct {
	Field string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("storage: malformed data in field %q", e.Field)
}

// InconsistentRelatedDataError reports cross-referenced records that
// disagree (e.g. a record's dataset pointer names a dataset that does not
// list the record).
type InconsistentRelatedDataError struct {
	A, B string
}

func (e *InconsistentRelatedDataError) Error() string {
	return fmt.Sprintf("storage: inconsistent related data between %q and %q", e.A, e.B)
}

// FailedRelatingDataError reports a failure to establish a cross-index
// entry (e.g. adding a record to a dataset's ordered set).
type FailedRelatingDataError struct {
	A, B string
}

func (e *FailedRelatingDataError) Error() string {
	return fmt.Sprintf("storage: failed relating %q to %q", e.A, e.B)
}
