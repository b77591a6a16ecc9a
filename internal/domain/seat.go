package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type ShowtimeSeats struct {
	TheaterID   int
	TheaterName string
	MovieName   string
	HallID      int
	HallName    string
	Seats       []Seat
}

type Seat struct {
	ID         int
	Row        int
	Col        int
	Type       string
	ExtraPrice decimal.Decimal
	Available  bool
}

// SeatRepository is the read-only inventory of seats per showtime. Seat
// layout is immutable for the lifetime of a showtime; hold state is layered
// on top by the ledger.
type SeatRepository interface {
	GetSeatsByShowtime(ctx context.Context, showtimeID int) (*ShowtimeSeats, error)
	GetSeatsByShowtimeAndSeatIds(ctx context.Context, showtimeID int, seatIDs []int) (*ShowtimeSeats, error)
}
