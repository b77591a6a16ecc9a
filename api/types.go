// Package api defines the JSON types exchanged with clients of the seat-hold
// service: request bodies, responses, and the payloads carried on the
// per-showtime event stream.
package api

import "time"

type ErrorResponse struct {
	Message   string    `json:"message"`
	RequestId string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

type ValidationErrorResponse struct {
	Message          string            `json:"message"`
	RequestId        string            `json:"requestId,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationErrors []ValidationError `json:"validationErrors"`
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type SeatType string

const (
	Standard SeatType = "Standard"
	VIP      SeatType = "VIP"
	Couple   SeatType = "Couple"
)

type Seat struct {
	Id         int      `json:"id"`
	Row        int      `json:"row"`
	Column     int      `json:"column"`
	Type       SeatType `json:"type"`
	ExtraPrice string   `json:"extraPrice"`
	Available  bool     `json:"available"`
}

type SeatRow struct {
	Row   int    `json:"row"`
	Seats []Seat `json:"seats"`
}

type SeatMapResponse struct {
	TheaterId   int       `json:"theaterId"`
	TheaterName string    `json:"theaterName"`
	HallId      int       `json:"hallId"`
	ShowtimeId  int       `json:"showtimeId"`
	SeatRows    []SeatRow `json:"seatRows"`
}

type CreateHoldsRequest struct {
	SeatIdList   []int `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
	LeaseSeconds *int  `json:"leaseSeconds,omitempty" validate:"omitempty,gte=30,lte=1800"`
}

type RenewHoldsRequest struct {
	SeatIdList []int `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
}

type ReleaseHoldsRequest struct {
	SeatIdList []int `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
}

type Hold struct {
	SeatId    int       `json:"seatId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type HoldsResponse struct {
	ShowtimeId int    `json:"showtimeId"`
	Holds      []Hold `json:"holds"`
}

// ConflictResponse names the seats that caused an all-or-nothing hold
// request to fail, so the client can tell the user exactly which seats
// were just taken.
type ConflictResponse struct {
	Message   string    `json:"message"`
	RequestId string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SeatIds   []int     `json:"seatIds"`
}

// CommitHoldsRequest is sent by the booking finalizer after a successful
// payment. The finalizer acts on behalf of a buyer's session, so the holder
// is explicit rather than taken from a cookie.
type CommitHoldsRequest struct {
	SeatIdList []int  `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
	HolderId   string `json:"holderId" validate:"required,max=64"`
}

type ReleaseHeldSeatsRequest struct {
	SeatIdList []int  `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
	HolderId   string `json:"holderId" validate:"required,max=64"`
}

type SeatEventKind string

const (
	SeatHeld     SeatEventKind = "held"
	SeatReleased SeatEventKind = "released"
)

type SeatReleaseReason string

const (
	ReleasedByHolder SeatReleaseReason = "holder"
	ReleasedExpired  SeatReleaseReason = "expired"
	ReleasedToBooked SeatReleaseReason = "booked"
)

// SeatEvent is the incremental payload on the event stream. HolderId and
// ExpiresAt are set for held events; Reason is set for released events.
type SeatEvent struct {
	ShowtimeId int               `json:"showtimeId"`
	SeatId     int               `json:"seatId"`
	Kind       SeatEventKind     `json:"kind"`
	Reason     SeatReleaseReason `json:"reason,omitempty"`
	HolderId   string            `json:"holderId,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
}

// HeldSeat is one row of the snapshot pushed when a client subscribes.
type HeldSeat struct {
	SeatId    int       `json:"seatId"`
	HolderId  string    `json:"holderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SnapshotEvent struct {
	ShowtimeId int        `json:"showtimeId"`
	Seats      []HeldSeat `json:"seats"`
}
