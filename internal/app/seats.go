package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cinexhq/seathold/api"
	"github.com/cinexhq/seathold/internal/domain"
)

func (app *Application) GetSeatMapByShowtime(w http.ResponseWriter, r *http.Request, showtimeID int) {
	logger := app.contextGetLogger(r)

	showtimeSeats, err := app.seatRepo.GetSeatsByShowtime(r.Context(), showtimeID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			logger.Warn("seat map not found for showtime", "showtime_id", showtimeID)
			app.notFoundResponse(w, r)
			return
		}

		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.updateSeatAvailability(r.Context(), showtimeID, showtimeSeats)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	resp := toSeatMapResponse(showtimeID, showtimeSeats)

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// updateSeatAvailability overlays the live hold state on the static seat
// layout. Seats sold permanently are the booking system's concern; from this
// engine's view a committed seat simply stops being held.
func (app *Application) updateSeatAvailability(ctx context.Context, showtimeID int, showtimeSeats *domain.ShowtimeSeats) error {
	holds, err := app.ledger.Snapshot(ctx, showtimeID)
	if err != nil {
		return fmt.Errorf("failed to snapshot holds: %w", err)
	}

	heldSeats := make(map[int]bool, len(holds))
	for _, hold := range holds {
		heldSeats[hold.SeatID] = true
	}

	for i := range showtimeSeats.Seats {
		if heldSeats[showtimeSeats.Seats[i].ID] {
			showtimeSeats.Seats[i].Available = false
		}
	}

	return nil
}

func toSeatMapResponse(showtimeID int, showtimeSeats *domain.ShowtimeSeats) api.SeatMapResponse {
	return api.SeatMapResponse{
		TheaterId:   showtimeSeats.TheaterID,
		TheaterName: showtimeSeats.TheaterName,
		HallId:      showtimeSeats.HallID,
		ShowtimeId:  showtimeID,
		SeatRows:    toSeatRows(showtimeSeats.Seats),
	}
}

func toSeatRows(seats []domain.Seat) []api.SeatRow {
	// Seats are pre-sorted by Row,Column (ascending).
	// This allows us to process them in a single pass without additional sorting or mapping.

	var seatRows []api.SeatRow
	currentRow := api.SeatRow{Row: seats[0].Row}

	for _, v := range seats {
		if v.Row != currentRow.Row {
			seatRows = append(seatRows, currentRow)
			currentRow = api.SeatRow{Row: v.Row}
		}

		currentRow.Seats = append(currentRow.Seats, api.Seat{
			Id:         v.ID,
			Row:        v.Row,
			Column:     v.Col,
			Type:       api.SeatType(v.Type),
			ExtraPrice: v.ExtraPrice.StringFixed(2),
			Available:  v.Available,
		})
	}

	seatRows = append(seatRows, currentRow)

	return seatRows
}
