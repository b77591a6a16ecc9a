package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/cinexhq/seathold/api"
	"github.com/cinexhq/seathold/internal/domain"
)

// CreateHoldsHandler places an all-or-nothing hold on a batch of seats for
// the caller's session. If any requested seat is held by someone else the
// whole request fails with a 409 naming the contested seats.
func (app *Application) CreateHoldsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	logger := app.contextGetLogger(r)

	var req api.CreateHoldsRequest

	err := app.readJSON(w, r, &req)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(req)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	// Holds are only meaningful for seats that exist in this showtime's
	// hall. A count mismatch means at least one requested seat id is bogus.
	showtimeSeats, err := app.seatRepo.GetSeatsByShowtimeAndSeatIds(r.Context(), showtimeID, req.SeatIdList)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	if len(showtimeSeats.Seats) != len(req.SeatIdList) {
		logger.Warn("hold request referenced unknown seats",
			"showtime_id", showtimeID,
			"requested", len(req.SeatIdList),
			"found", len(showtimeSeats.Seats))
		app.notFoundResponse(w, r)
		return
	}

	lease := app.config.Hold.Lease
	if req.LeaseSeconds != nil {
		lease = time.Duration(*req.LeaseSeconds) * time.Second
	}

	holds, err := app.ledger.AcquireMany(r.Context(), showtimeID, req.SeatIdList, app.holderID(r), lease)
	if err != nil {
		var unavailableErr *domain.SeatUnavailableError
		if errors.As(err, &unavailableErr) {
			app.seatConflictResponse(w, r, unavailableErr.SeatIDs)
			return
		}

		app.serverErrorResponse(w, r, err)
		return
	}

	logger.Info("seats held", "showtime_id", showtimeID, "seat_count", len(holds))

	err = app.writeJSON(w, http.StatusCreated, toHoldsResponse(showtimeID, holds), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// RenewHoldsHandler extends the caller's leases on the given seats. Renewal
// is not partial: the first seat that is gone or foreign fails the request,
// and already renewed seats keep their new expiry.
func (app *Application) RenewHoldsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	var req api.RenewHoldsRequest

	err := app.readJSON(w, r, &req)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(req)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	holderID := app.holderID(r)

	holds := make([]domain.HoldRecord, 0, len(req.SeatIdList))
	for _, seatID := range req.SeatIdList {
		hold, err := app.ledger.Renew(r.Context(), showtimeID, seatID, holderID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrHoldNotFound):
				app.errorResponse(w, r, http.StatusConflict, "One or more holds have expired, select the seats again")
			case errors.Is(err, domain.ErrNotHolder):
				app.errorResponse(w, r, http.StatusConflict, "One or more seats are held by another session")
			default:
				app.serverErrorResponse(w, r, err)
			}
			return
		}

		holds = append(holds, hold)
	}

	err = app.writeJSON(w, http.StatusOK, toHoldsResponse(showtimeID, holds), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// ReleaseHoldsHandler frees the caller's holds on the given seats. Releasing
// a seat that already expired or was never held succeeds, so clients can
// retry without bookkeeping.
func (app *Application) ReleaseHoldsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	var req api.ReleaseHoldsRequest

	err := app.readJSON(w, r, &req)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(req)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	err = app.ledger.ReleaseMany(r.Context(), showtimeID, req.SeatIdList, app.holderID(r), domain.ReleaseByHolder)
	if err != nil {
		if errors.Is(err, domain.ErrNotHolder) {
			app.errorResponse(w, r, http.StatusConflict, "One or more seats are held by another session")
			return
		}

		app.serverErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toHoldsResponse(showtimeID int, holds []domain.HoldRecord) api.HoldsResponse {
	resp := api.HoldsResponse{
		ShowtimeId: showtimeID,
		Holds:      make([]api.Hold, len(holds)),
	}

	for i, hold := range holds {
		resp.Holds[i] = api.Hold{
			SeatId:    hold.SeatID,
			ExpiresAt: hold.ExpiresAt,
		}
	}

	return resp
}
