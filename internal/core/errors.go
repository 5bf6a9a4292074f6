package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// InsufficientStockError is returned by Consume when the eligible layers of an
// item cannot cover the requested quantity. Nothing is changed when it is returned.
type InsufficientStockError struct {
	ItemID    int
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: requested %d, eligible %d", e.ItemID, e.Requested, e.Available)
}

// OverReservationError is returned by Reserve when the request exceeds available quantity.
type OverReservationError struct {
	ItemID    int
	Requested int64
	Available int64
}

func (e *OverReservationError) Error() string {
	return fmt.Sprintf("cannot reserve %d of item %d: only %d available", e.Requested, e.ItemID, e.Available)
}

type InvalidTransferError struct {
	LayerID int
	Reason  string
}

func (e *InvalidTransferError) Error() string {
	return fmt.Sprintf("invalid transfer of layer %d: %s", e.LayerID, e.Reason)
}

// AlreadyCompletedError is returned when results are submitted against an
// inspection order that is no longer open.
type AlreadyCompletedError struct {
	InspectionID int
	Status       InspectionStatus
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("inspection %d is already completed with status %s", e.InspectionID, e.Status)
}

// ConcurrentModificationError is returned after the consume retry budget is
// exhausted on layer version conflicts.
type ConcurrentModificationError struct {
	ItemID   int
	Attempts int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of item %d layers: gave up after %d attempts", e.ItemID, e.Attempts)
}

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func notFound(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// InvalidInspectionError marks malformed inspection input: an unknown test id,
// a non-numeric value for a NUMERIC test, or an empty submission.
type InvalidInspectionError struct {
	InspectionID int
	Reason       string
}

func (e *InvalidInspectionError) Error() string {
	return fmt.Sprintf("invalid inspection %d: %s", e.InspectionID, e.Reason)
}

type CapacityExceededError struct {
	LocationID int
	Capacity   int64
	Occupied   int64
	Incoming   int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("location %d capacity %d exceeded: occupied %d, incoming %d",
		e.LocationID, e.Capacity, e.Occupied, e.Incoming)
}

type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// errVersionConflict signals a lost compare-and-swap on a layer row. It never
// leaves the package: Consume either retries or converts it.
var errVersionConflict = errors.New("layer version conflict")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
