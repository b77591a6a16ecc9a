package domain

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrSeatUnavailable = errors.New("seat(s) are already held by another session")
	ErrNotHolder       = errors.New("hold does not belong to the current session")
	ErrHoldNotFound    = errors.New("hold not found or has expired")
)

// SeatUnavailableError reports which seats lost the race. It wraps
// ErrSeatUnavailable so callers can match with errors.Is while handlers
// surface the exact contested seats to the user.
type SeatUnavailableError struct {
	SeatIDs []int
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seats already held: %v", e.SeatIDs)
}

func (e *SeatUnavailableError) Unwrap() error {
	return ErrSeatUnavailable
}

func NewSeatUnavailableError(seatIDs []int) *SeatUnavailableError {
	ids := make([]int, len(seatIDs))
	copy(ids, seatIDs)
	sort.Ints(ids)

	return &SeatUnavailableError{SeatIDs: ids}
}

// PartialOwnershipError is returned by Commit when some of the requested
// seats are not held by the given holder. Nothing is freed in that case.
type PartialOwnershipError struct {
	SeatIDs []int
}

func (e *PartialOwnershipError) Error() string {
	return fmt.Sprintf("seats not held by caller: %v", e.SeatIDs)
}

func (e *PartialOwnershipError) Unwrap() error {
	return ErrNotHolder
}

func NewPartialOwnershipError(seatIDs []int) *PartialOwnershipError {
	ids := make([]int, len(seatIDs))
	copy(ids, seatIDs)
	sort.Ints(ids)

	return &PartialOwnershipError{SeatIDs: ids}
}
