package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cinexhq/seathold/internal/domain"
)

const relayChannel = "seat_events"

// LedgerSource is the slice of the ledger the relay needs to reconcile its
// hub with shared state at startup.
type LedgerSource interface {
	ActiveShowtimes(ctx context.Context) ([]int, error)
	Snapshot(ctx context.Context, showtimeID int) ([]domain.HoldRecord, error)
}

// RedisRelay extends the in-process hub across engine instances: every
// locally published event also goes out on a Redis pub/sub channel, and
// events from other instances are folded into the local hub. Messages are
// tagged with an instance id so an instance never re-applies its own events.
//
// Cross-instance delivery is best-effort; the authoritative hold state is
// always the shared ledger, and a client that reconnects gets a snapshot
// reflecting it.
type RedisRelay struct {
	hub        *Hub
	client     redis.UniversalClient
	logger     *slog.Logger
	instanceID string

	pubsub *redis.PubSub
	done   chan struct{}
}

type relayMessage struct {
	InstanceID string `json:"instanceId"`
	ShowtimeID int    `json:"showtimeId"`
	SeatID     int    `json:"seatId"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	HolderID   string `json:"holderId,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

func NewRedisRelay(hub *Hub, client redis.UniversalClient, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		hub:        hub,
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		done:       make(chan struct{}),
	}
}

// Publish delivers the event locally and forwards it to peer instances.
func (r *RedisRelay) Publish(event domain.SeatEvent) {
	r.hub.Publish(event)

	msg := relayMessage{
		InstanceID: r.instanceID,
		ShowtimeID: event.ShowtimeID,
		SeatID:     event.SeatID,
		Kind:       string(event.Kind),
		Reason:     string(event.Reason),
		HolderID:   event.HolderID,
	}
	if !event.ExpiresAt.IsZero() {
		msg.ExpiresAt = event.ExpiresAt.Format(time.RFC3339Nano)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal relay message", "error", err)
		return
	}

	// Fire and forget: losing a relayed event only delays peers' viewers
	// until their next snapshot.
	if err := r.client.Publish(context.Background(), relayChannel, payload).Err(); err != nil {
		r.logger.Error("failed to publish relay message", "error", err)
	}
}

// Start subscribes to the relay channel and then reconciles the hub's topic
// caches with holds already present in the shared ledger, so snapshots served
// by this instance include holds taken before it booted.
func (r *RedisRelay) Start(ctx context.Context, source LedgerSource) error {
	r.pubsub = r.client.Subscribe(ctx, relayChannel)

	// Force the subscription to be established before priming, otherwise
	// events between the snapshot and the subscription would be lost.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to relay channel: %w", err)
	}

	go r.receive()

	showtimes, err := source.ActiveShowtimes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active showtimes: %w", err)
	}

	for _, showtimeID := range showtimes {
		records, err := source.Snapshot(ctx, showtimeID)
		if err != nil {
			return fmt.Errorf("failed to snapshot showtime %d: %w", showtimeID, err)
		}
		r.hub.Prime(records)
	}

	return nil
}

func (r *RedisRelay) receive() {
	defer close(r.done)

	for msg := range r.pubsub.Channel() {
		var m relayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			r.logger.Error("failed to unmarshal relay message", "error", err)
			continue
		}

		if m.InstanceID == r.instanceID {
			continue
		}

		event := domain.SeatEvent{
			ShowtimeID: m.ShowtimeID,
			SeatID:     m.SeatID,
			Kind:       domain.EventKind(m.Kind),
			Reason:     domain.ReleaseReason(m.Reason),
			HolderID:   m.HolderID,
		}
		if m.ExpiresAt != "" {
			if expiresAt, err := time.Parse(time.RFC3339Nano, m.ExpiresAt); err == nil {
				event.ExpiresAt = expiresAt
			}
		}

		r.hub.Publish(event)
	}
}

// Close stops relaying. Local hub delivery continues to work.
func (r *RedisRelay) Close() error {
	if r.pubsub == nil {
		return nil
	}

	err := r.pubsub.Close()
	<-r.done

	return err
}
