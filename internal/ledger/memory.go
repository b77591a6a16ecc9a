// Package ledger implements the hold ledger: the single mutator of seat-hold
// state. Two implementations exist, an in-memory ledger for single-instance
// deployments and a Redis-backed one for horizontally scaled ones.
package ledger

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cinexhq/seathold/internal/domain"
)

// Memory is the in-memory ledger. State is sharded per showtime; every
// mutation of a showtime runs inside that shard's critical section and
// publishes its events before leaving it, so per-showtime event order always
// matches apply order and a completed operation is visible to every later
// snapshot. The critical section never spans I/O; persistence writes happen
// after the lock is dropped, serialized per shard so they reach the store in
// apply order.
type Memory struct {
	mu        sync.RWMutex
	showtimes map[int]*showtimeShard

	publisher domain.EventPublisher
	store     domain.HoldStore
	logger    *slog.Logger
	now       func() time.Time
}

type showtimeShard struct {
	mu     sync.Mutex
	holds  map[int]holdEntry
	expiry expiryHeap

	// Set under mu when the shard is garbage-collected. A mutator that
	// locked a dropped shard must retry against the registry, otherwise its
	// writes land in a shard nothing else can see.
	dropped bool

	// Write-through persistence. Every mutator queues its store writes
	// under mu, in apply order, and drains the queue under storeMu after
	// releasing mu. A later mutator's writes can therefore never overtake
	// an earlier one's, and mu itself never waits on store I/O.
	storeMu sync.Mutex
	pending []storeOp
}

// storeOp is one queued store write. record carries the key for deletes too.
type storeOp struct {
	save   bool
	record domain.HoldRecord
}

type holdEntry struct {
	record domain.HoldRecord
	lease  time.Duration
}

type Option func(*Memory)

// WithStore enables write-through persistence of hold records.
func WithStore(store domain.HoldStore) Option {
	return func(m *Memory) {
		m.store = store
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(publisher domain.EventPublisher, logger *slog.Logger, opts ...Option) *Memory {
	m := &Memory{
		showtimes: make(map[int]*showtimeShard),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Memory) shard(showtimeID int) *showtimeShard {
	m.mu.RLock()
	s, ok := m.showtimes[showtimeID]
	m.mu.RUnlock()

	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok = m.showtimes[showtimeID]; !ok {
		s = &showtimeShard{holds: make(map[int]holdEntry)}
		m.showtimes[showtimeID] = s
	}

	return s
}

// lockShard returns the showtime's shard with its mutex held. The reaper can
// garbage-collect a shard between the registry lookup and the lock, so the
// lookup repeats until it locks a shard that is still registered.
func (m *Memory) lockShard(showtimeID int) *showtimeShard {
	for {
		s := m.shard(showtimeID)

		s.mu.Lock()
		if !s.dropped {
			return s
		}
		s.mu.Unlock()
	}
}

// queueSave and queueDelete record a store write. Callers hold s.mu.

func (m *Memory) queueSave(s *showtimeShard, record domain.HoldRecord) {
	if m.store != nil {
		s.pending = append(s.pending, storeOp{save: true, record: record})
	}
}

func (m *Memory) queueDelete(s *showtimeShard, record domain.HoldRecord) {
	if m.store != nil {
		s.pending = append(s.pending, storeOp{record: record})
	}
}

// flushStore drains the shard's queued store writes. Whoever holds storeMu
// drains everything queued so far, including writes queued by mutators that
// are still waiting here; those then find the queue empty and return.
func (m *Memory) flushStore(ctx context.Context, s *showtimeShard) {
	if m.store == nil {
		return
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	for {
		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		if len(pending) == 0 {
			return
		}

		for _, op := range pending {
			record := op.record

			if op.save {
				if err := m.store.Save(ctx, record); err != nil {
					m.logger.Error("failed to persist hold record",
						"showtime_id", record.ShowtimeID, "seat_id", record.SeatID, "error", err)
				}
				continue
			}

			if err := m.store.Delete(ctx, record.ShowtimeID, record.SeatID); err != nil {
				m.logger.Error("failed to delete persisted hold record",
					"showtime_id", record.ShowtimeID, "seat_id", record.SeatID, "error", err)
			}
		}
	}
}

func (m *Memory) Acquire(ctx context.Context, showtimeID, seatID int, holderID string, lease time.Duration) (domain.HoldRecord, error) {
	records, err := m.AcquireMany(ctx, showtimeID, []int{seatID}, holderID, lease)
	if err != nil {
		return domain.HoldRecord{}, err
	}

	return records[0], nil
}

func (m *Memory) AcquireMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, lease time.Duration) ([]domain.HoldRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	s := m.lockShard(showtimeID)

	// First-committer-wins: check every requested seat before touching any,
	// so a failed batch leaves no trace. A live hold by the same holder is
	// an idempotent re-acquire, not a conflict.
	var contested []int
	for _, seatID := range seatIDs {
		entry, ok := s.holds[seatID]
		if ok && !entry.record.Expired(now) && entry.record.HolderID != holderID {
			contested = append(contested, seatID)
		}
	}

	if len(contested) > 0 {
		s.mu.Unlock()
		return nil, domain.NewSeatUnavailableError(contested)
	}

	records := make([]domain.HoldRecord, 0, len(seatIDs))

	for _, seatID := range seatIDs {
		prev, existed := s.holds[seatID]

		// A leftover expired hold of another session is freed here rather
		// than waiting for the reaper, so the event stream stays consistent:
		// released before the new held.
		if existed && prev.record.Expired(now) {
			m.publisher.Publish(releasedEvent(prev.record, domain.ReleaseExpired))
			existed = false
		}

		record := domain.HoldRecord{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(lease),
		}
		if existed {
			record.AcquiredAt = prev.record.AcquiredAt
		}

		s.holds[seatID] = holdEntry{record: record, lease: lease}
		heap.Push(&s.expiry, expiryEntry{expiresAt: record.ExpiresAt, seatID: seatID, holderID: holderID})

		m.publisher.Publish(heldEvent(record))
		records = append(records, record)
		m.queueSave(s, record)
	}

	s.mu.Unlock()

	m.flushStore(ctx, s)

	return records, nil
}

func (m *Memory) Renew(ctx context.Context, showtimeID, seatID int, holderID string) (domain.HoldRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.HoldRecord{}, err
	}

	now := m.now()
	s := m.lockShard(showtimeID)

	entry, ok := s.holds[seatID]
	if !ok || entry.record.Expired(now) {
		s.mu.Unlock()
		return domain.HoldRecord{}, domain.ErrHoldNotFound
	}

	if entry.record.HolderID != holderID {
		s.mu.Unlock()
		return domain.HoldRecord{}, domain.ErrNotHolder
	}

	entry.record.ExpiresAt = now.Add(entry.lease)
	s.holds[seatID] = entry
	heap.Push(&s.expiry, expiryEntry{expiresAt: entry.record.ExpiresAt, seatID: seatID, holderID: holderID})

	// No event: a renewal changes nothing other viewers can see.
	m.queueSave(s, entry.record)
	s.mu.Unlock()

	m.flushStore(ctx, s)

	return entry.record, nil
}

func (m *Memory) Release(ctx context.Context, showtimeID, seatID int, holderID string) error {
	return m.ReleaseMany(ctx, showtimeID, []int{seatID}, holderID, domain.ReleaseByHolder)
}

func (m *Memory) ReleaseMany(ctx context.Context, showtimeID int, seatIDs []int, holderID string, reason domain.ReleaseReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.now()
	s := m.lockShard(showtimeID)

	var releaseErr error

	for _, seatID := range seatIDs {
		entry, ok := s.holds[seatID]
		if !ok {
			// Duplicate release after a network retry; nothing to do.
			continue
		}

		if entry.record.Expired(now) {
			// The lease already ended, free it now instead of leaving it for
			// the reaper, but report it as expired rather than released.
			delete(s.holds, seatID)
			m.publisher.Publish(releasedEvent(entry.record, domain.ReleaseExpired))
			m.queueDelete(s, entry.record)
			continue
		}

		if entry.record.HolderID != holderID {
			releaseErr = domain.ErrNotHolder
			break
		}

		delete(s.holds, seatID)
		m.publisher.Publish(releasedEvent(entry.record, reason))
		m.queueDelete(s, entry.record)
	}

	s.mu.Unlock()

	m.flushStore(ctx, s)

	return releaseErr
}

func (m *Memory) Commit(ctx context.Context, showtimeID int, seatIDs []int, holderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.now()
	s := m.lockShard(showtimeID)

	var notOwned []int
	for _, seatID := range seatIDs {
		entry, ok := s.holds[seatID]
		if !ok || entry.record.Expired(now) || entry.record.HolderID != holderID {
			notOwned = append(notOwned, seatID)
		}
	}

	if len(notOwned) > 0 {
		s.mu.Unlock()
		return domain.NewPartialOwnershipError(notOwned)
	}

	for _, seatID := range seatIDs {
		entry := s.holds[seatID]
		delete(s.holds, seatID)
		m.publisher.Publish(releasedEvent(entry.record, domain.ReleaseToBooked))
		m.queueDelete(s, entry.record)
	}

	s.mu.Unlock()

	m.flushStore(ctx, s)

	return nil
}

func (m *Memory) Snapshot(ctx context.Context, showtimeID int) ([]domain.HoldRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()

	var s *showtimeShard
	for s == nil {
		m.mu.RLock()
		candidate, ok := m.showtimes[showtimeID]
		m.mu.RUnlock()

		if !ok {
			return nil, nil
		}

		candidate.mu.Lock()
		if candidate.dropped {
			candidate.mu.Unlock()
			continue
		}
		s = candidate
	}
	defer s.mu.Unlock()

	records := make([]domain.HoldRecord, 0, len(s.holds))
	for _, entry := range s.holds {
		if entry.record.Expired(now) {
			continue
		}
		records = append(records, entry.record)
	}

	sortRecords(records)

	return records, nil
}

func (m *Memory) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	shards := make(map[int]*showtimeShard, len(m.showtimes))
	for id, s := range m.showtimes {
		shards[id] = s
	}
	m.mu.RUnlock()

	freed := 0

	for _, s := range shards {
		expired := 0

		s.mu.Lock()
		if s.dropped {
			s.mu.Unlock()
			continue
		}
		for s.expiry.Len() > 0 && !s.expiry[0].expiresAt.After(now) {
			candidate := heap.Pop(&s.expiry).(expiryEntry)

			// Renewed, re-acquired, or already freed entries are stale heap
			// leftovers; expiring them is a no-op by the idempotence rule.
			entry, ok := s.holds[candidate.seatID]
			if !ok || entry.record.HolderID != candidate.holderID || !entry.record.Expired(now) {
				continue
			}

			delete(s.holds, candidate.seatID)
			m.publisher.Publish(releasedEvent(entry.record, domain.ReleaseExpired))
			m.queueDelete(s, entry.record)
			expired++
		}
		s.mu.Unlock()

		freed += expired
		m.flushStore(ctx, s)
	}

	m.dropEmptyShards()

	return freed, nil
}

// Restore primes the ledger from persisted records, typically at startup.
// Records are trusted as-is and no events are published: there is nobody
// subscribed yet, and re-announcing old holds as new would be wrong anyway.
func (m *Memory) Restore(records []domain.HoldRecord) {
	now := m.now()

	for _, record := range records {
		if record.Expired(now) {
			continue
		}

		lease := record.ExpiresAt.Sub(record.AcquiredAt)

		s := m.lockShard(record.ShowtimeID)
		s.holds[record.SeatID] = holdEntry{record: record, lease: lease}
		heap.Push(&s.expiry, expiryEntry{expiresAt: record.ExpiresAt, seatID: record.SeatID, holderID: record.HolderID})
		s.mu.Unlock()
	}
}

func (m *Memory) dropEmptyShards() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.showtimes {
		s.mu.Lock()
		empty := len(s.holds) == 0 && s.expiry.Len() == 0 && len(s.pending) == 0

		// A shard with an in-flight store flush stays; dropping it would let
		// a recreated shard's store writes overtake the flush. The next reap
		// tick collects it.
		if empty && s.storeMu.TryLock() {
			s.dropped = true
			delete(m.showtimes, id)
			s.storeMu.Unlock()
		}
		s.mu.Unlock()
	}
}

func heldEvent(record domain.HoldRecord) domain.SeatEvent {
	return domain.SeatEvent{
		ShowtimeID: record.ShowtimeID,
		SeatID:     record.SeatID,
		Kind:       domain.EventHeld,
		HolderID:   record.HolderID,
		ExpiresAt:  record.ExpiresAt,
	}
}

func releasedEvent(record domain.HoldRecord, reason domain.ReleaseReason) domain.SeatEvent {
	return domain.SeatEvent{
		ShowtimeID: record.ShowtimeID,
		SeatID:     record.SeatID,
		Kind:       domain.EventReleased,
		Reason:     reason,
		HolderID:   record.HolderID,
	}
}
