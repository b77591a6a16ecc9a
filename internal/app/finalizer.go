package app

import (
	"errors"
	"net/http"

	"github.com/cinexhq/seathold/api"
	"github.com/cinexhq/seathold/internal/domain"
)

// CommitHeldSeatsHandler converts holds into a permanent booking. It is
// called by the booking service after payment succeeds, so the holder is
// named in the request body rather than read from a session cookie. The
// commit requires full ownership: if any listed seat is not live and held by
// that holder, nothing is freed and the conflict names the offenders.
func (app *Application) CommitHeldSeatsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	logger := app.contextGetLogger(r)

	var req api.CommitHoldsRequest

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

	err = app.ledger.Commit(r.Context(), showtimeID, req.SeatIdList, req.HolderId)
	if err != nil {
		var ownershipErr *domain.PartialOwnershipError
		if errors.As(err, &ownershipErr) {
			logger.Warn("commit rejected, holds incomplete",
				"showtime_id", showtimeID, "seat_ids", ownershipErr.SeatIDs)
			app.seatConflictResponse(w, r, ownershipErr.SeatIDs)
			return
		}

		app.serverErrorResponse(w, r, err)
		return
	}

	logger.Info("holds committed", "showtime_id", showtimeID, "seat_count", len(req.SeatIdList))

	w.WriteHeader(http.StatusNoContent)
}

// ReleaseHeldSeatsHandler frees a named holder's seats on behalf of the
// booking service, typically after a payment fails or a checkout is
// abandoned server-side. Idempotent like the public release endpoint.
func (app *Application) ReleaseHeldSeatsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	var req api.ReleaseHeldSeatsRequest

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

	err = app.ledger.ReleaseMany(r.Context(), showtimeID, req.SeatIdList, req.HolderId, domain.ReleaseByHolder)
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
