package domain

import (
	"context"
	"time"
)

// HoldRecord is a temporary lease on one seat of one showtime. At most one
// live record exists per (ShowtimeID, SeatID) at any instant; enforcing this
// under concurrency is the ledger's core job.
type HoldRecord struct {
	ShowtimeID int       `json:"showtimeId"`
	SeatID     int       `json:"seatId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (h HoldRecord) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

type EventKind string

const (
	EventHeld     EventKind = "held"
	EventReleased EventKind = "released"
)

// ReleaseReason distinguishes why a seat was freed. The ledger frees the
// hold identically in all three cases; clients render them differently.
type ReleaseReason string

const (
	ReleaseByHolder ReleaseReason = "holder"
	ReleaseExpired  ReleaseReason = "expired"
	ReleaseToBooked ReleaseReason = "booked"
)

// SeatEvent is emitted once per ledger mutation that changes externally
// visible state. Events for the same showtime are ordered as applied.
type SeatEvent struct {
	ShowtimeID int
	SeatID     int
	Kind       EventKind
	Reason     ReleaseReason
	HolderID   string
	ExpiresAt  time.Time
}

// EventPublisher receives every seat event, in apply order per showtime.
// Implementations must not block: delivery to slow consumers is the
// publisher's problem to bound, not the ledger's.
type EventPublisher interface {
	Publish(event SeatEvent)
}

// HoldLedger is the single source of truth for which seats are held, by
// whom, and until when. All mutations on a (showtime, seat) key are
// linearizable; errors are reported synchronously and never retried
// internally.
type HoldLedger interface {
	// Acquire takes a lease on one seat. Re-acquiring a seat the holder
	// already owns extends the lease instead of failing.
	Acquire(ctx context.Context, showtimeID, seatID int, holderID string, lease time.Duration) (HoldRecord, error)

	// AcquireMany is all-or-nothing: if any seat is held by someone else the
	// whole batch fails with a SeatUnavailableError naming the contested
	// seats, and no requested seat remains held by the caller.
	AcquireMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, lease time.Duration) ([]HoldRecord, error)

	// Renew extends the lease on a held seat. Fails with ErrHoldNotFound if
	// the hold is gone and ErrNotHolder if it belongs to someone else.
	Renew(ctx context.Context, showtimeID, seatID int, holderID string) (HoldRecord, error)

	// Release frees a held seat. Releasing an absent or expired hold is a
	// no-op success; releasing another session's hold fails with
	// ErrNotHolder.
	Release(ctx context.Context, showtimeID, seatID int, holderID string) error

	// ReleaseMany applies Release to each seat, with the given reason on the
	// emitted events. Per-seat idempotence applies.
	ReleaseMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, reason ReleaseReason) error

	// Commit permanently removes the holds after a successful payment.
	// All listed seats must be held by holderID, otherwise nothing is freed
	// and a PartialOwnershipError names the offenders.
	Commit(ctx context.Context, showtimeID int, seatIDs []int, holderID string) error

	// Snapshot returns the live holds for a showtime.
	Snapshot(ctx context.Context, showtimeID int) ([]HoldRecord, error)

	// ReapExpired frees every hold whose lease ended at or before now and
	// publishes a released/expired event for each. Returns the number freed.
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

// HoldStore persists hold records so an engine restart does not silently
// forget live leases. Writes are best-effort from the ledger's perspective.
type HoldStore interface {
	Save(ctx context.Context, record HoldRecord) error
	Delete(ctx context.Context, showtimeID, seatID int) error
	// LoadActive returns records whose lease has not ended yet; anything
	// already expired is dropped by the store, not re-published.
	LoadActive(ctx context.Context, now time.Time) ([]HoldRecord, error)
}
