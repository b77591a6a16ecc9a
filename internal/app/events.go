package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cinexhq/seathold/api"
	"github.com/cinexhq/seathold/internal/domain"
)

const heartbeatInterval = 30 * time.Second

// StreamSeatEventsHandler streams live seat state for a showtime over SSE.
// The client first gets a snapshot event listing every held seat, then one
// seat event per ledger change, in apply order. Holder ids are session
// tokens, so foreign ones are masked; the client only learns whether a hold
// is its own.
func (app *Application) StreamSeatEventsHandler(w http.ResponseWriter, r *http.Request, showtimeID int) {
	logger := app.contextGetLogger(r)

	rc := http.NewResponseController(w)

	// Streams outlive the server's write timeout on purpose.
	err := rc.SetWriteDeadline(time.Time{})
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		app.serverErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	holderID := app.holderID(r)

	// The hub registration is per connection, not per session: two tabs of
	// the same browser session each get their own stream.
	sub := app.hub.Subscribe(showtimeID, uuid.NewString())
	defer app.hub.Drop(sub)

	err = writeSSE(w, rc, "snapshot", toSnapshotEvent(showtimeID, sub.Snapshot, holderID))
	if err != nil {
		logger.Debug("event stream closed during snapshot", "showtime_id", showtimeID)
		return
	}

	logger.Info("event stream opened", "showtime_id", showtimeID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("event stream closed by client", "showtime_id", showtimeID)
			return

		case <-app.shutdownCh:
			logger.Info("event stream closed for shutdown", "showtime_id", showtimeID)
			return

		case event, ok := <-sub.Events():
			if !ok {
				// The hub dropped us for slow consumption.
				logger.Warn("event stream dropped by hub", "showtime_id", showtimeID)
				return
			}

			err = writeSSE(w, rc, "seat", toSeatEvent(event, holderID))
			if err != nil {
				return
			}

		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
			if err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	if err != nil {
		return err
	}

	return rc.Flush()
}

func toSnapshotEvent(showtimeID int, records []domain.HoldRecord, viewerID string) api.SnapshotEvent {
	seats := make([]api.HeldSeat, len(records))
	for i, record := range records {
		seats[i] = api.HeldSeat{
			SeatId:    record.SeatID,
			HolderId:  maskHolder(record.HolderID, viewerID),
			ExpiresAt: record.ExpiresAt,
		}
	}

	return api.SnapshotEvent{
		ShowtimeId: showtimeID,
		Seats:      seats,
	}
}

func toSeatEvent(event domain.SeatEvent, viewerID string) api.SeatEvent {
	out := api.SeatEvent{
		ShowtimeId: event.ShowtimeID,
		SeatId:     event.SeatID,
		Kind:       api.SeatEventKind(event.Kind),
		HolderId:   maskHolder(event.HolderID, viewerID),
	}

	switch event.Kind {
	case domain.EventHeld:
		expiresAt := event.ExpiresAt
		out.ExpiresAt = &expiresAt
	case domain.EventReleased:
		out.Reason = api.SeatReleaseReason(event.Reason)
	}

	return out
}

// maskHolder hides foreign holder ids. They are scs session tokens, which
// must never reach another browser.
func maskHolder(holderID, viewerID string) string {
	if holderID == viewerID {
		return "you"
	}
	return "other"
}
