package mocks

import (
	"context"
	"time"

	"github.com/cinexhq/seathold/internal/domain"
)

type MockHoldLedger struct {
	domain.HoldLedger
	AcquireFunc     func(ctx context.Context, showtimeID, seatID int, holderID string, lease time.Duration) (domain.HoldRecord, error)
	AcquireManyFunc func(ctx context.Context, showtimeID int, seatIDs []int, holderID string, lease time.Duration) ([]domain.HoldRecord, error)
	RenewFunc       func(ctx context.Context, showtimeID, seatID int, holderID string) (domain.HoldRecord, error)
	ReleaseFunc     func(ctx context.Context, showtimeID, seatID int, holderID string) error
	ReleaseManyFunc func(ctx context.Context, showtimeID int, seatIDs []int, holderID string, reason domain.ReleaseReason) error
	CommitFunc      func(ctx context.Context, showtimeID int, seatIDs []int, holderID string) error
	SnapshotFunc    func(ctx context.Context, showtimeID int) ([]domain.HoldRecord, error)
	ReapExpiredFunc func(ctx context.Context, now time.Time) (int, error)
}

func (m *MockHoldLedger) Acquire(ctx context.Context, showtimeID, seatID int, holderID string, lease time.Duration) (domain.HoldRecord, error) {
	return m.AcquireFunc(ctx, showtimeID, seatID, holderID, lease)
}

func (m *MockHoldLedger) AcquireMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, lease time.Duration) ([]domain.HoldRecord, error) {
	return m.AcquireManyFunc(ctx, showtimeID, seatIDs, holderID, lease)
}

func (m *MockHoldLedger) Renew(ctx context.Context, showtimeID, seatID int, holderID string) (domain.HoldRecord, error) {
	return m.RenewFunc(ctx, showtimeID, seatID, holderID)
}

func (m *MockHoldLedger) Release(ctx context.Context, showtimeID, seatID int, holderID string) error {
	return m.ReleaseFunc(ctx, showtimeID, seatID, holderID)
}

func (m *MockHoldLedger) ReleaseMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, reason domain.ReleaseReason) error {
	return m.ReleaseManyFunc(ctx, showtimeID, seatIDs, holderID, reason)
}

func (m *MockHoldLedger) Commit(ctx context.Context, showtimeID int, seatIDs []int, holderID string) error {
	return m.CommitFunc(ctx, showtimeID, seatIDs, holderID)
}

func (m *MockHoldLedger) Snapshot(ctx context.Context, showtimeID int) ([]domain.HoldRecord, error) {
	return m.SnapshotFunc(ctx, showtimeID)
}

func (m *MockHoldLedger) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	return m.ReapExpiredFunc(ctx, now)
}
