package mocks

import (
	"context"
	"time"

	"github.com/cinexhq/seathold/internal/domain"
)

type MockHoldStore struct {
	domain.HoldStore
	SaveFunc       func(ctx context.Context, record domain.HoldRecord) error
	DeleteFunc     func(ctx context.Context, showtimeID, seatID int) error
	LoadActiveFunc func(ctx context.Context, now time.Time) ([]domain.HoldRecord, error)
}

func (m *MockHoldStore) Save(ctx context.Context, record domain.HoldRecord) error {
	return m.SaveFunc(ctx, record)
}

func (m *MockHoldStore) Delete(ctx context.Context, showtimeID, seatID int) error {
	return m.DeleteFunc(ctx, showtimeID, seatID)
}

func (m *MockHoldStore) LoadActive(ctx context.Context, now time.Time) ([]domain.HoldRecord, error) {
	return m.LoadActiveFunc(ctx, now)
}
