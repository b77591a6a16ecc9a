package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cinexhq/seathold/internal/domain"
	"github.com/cinexhq/seathold/internal/mocks"
)

// recordingPublisher captures events in publish order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SeatEvent
}

func (p *recordingPublisher) Publish(event domain.SeatEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []domain.SeatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SeatEvent(nil), p.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MemoryLedgerTestSuite struct {
	suite.Suite
	ledger    *Memory
	publisher *recordingPublisher
	clock     *fakeClock
}

func (s *MemoryLedgerTestSuite) SetupTest() {
	s.publisher = &recordingPublisher{}
	s.clock = &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ledger = NewMemory(s.publisher, logger, WithClock(s.clock.Now))
}

func TestMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, new(MemoryLedgerTestSuite))
}

func (s *MemoryLedgerTestSuite) TestAcquireIsExclusive() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	_, err = s.ledger.Acquire(ctx, 1, 7, "bob", time.Minute)
	s.Require().ErrorIs(err, domain.ErrSeatUnavailable)

	var unavailableErr *domain.SeatUnavailableError
	s.Require().ErrorAs(err, &unavailableErr)
	s.Equal([]int{7}, unavailableErr.SeatIDs)

	// Same seat on a different showtime is independent.
	_, err = s.ledger.Acquire(ctx, 2, 7, "bob", time.Minute)
	s.NoError(err)
}

func (s *MemoryLedgerTestSuite) TestAcquireIsIdempotentForSameHolder() {
	ctx := context.Background()

	first, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(30 * time.Second)

	second, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.Equal(first.AcquiredAt, second.AcquiredAt)
	s.True(second.ExpiresAt.After(first.ExpiresAt))
}

func (s *MemoryLedgerTestSuite) TestAcquireManyIsAllOrNothing() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 8, "bob", time.Minute)
	s.Require().NoError(err)

	_, err = s.ledger.AcquireMany(ctx, 1, []int{7, 8, 9}, "alice", time.Minute)

	var unavailableErr *domain.SeatUnavailableError
	s.Require().ErrorAs(err, &unavailableErr)
	s.Equal([]int{8}, unavailableErr.SeatIDs)

	// The failed batch must leave no partial holds behind.
	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(8, records[0].SeatID)
	s.Equal("bob", records[0].HolderID)
}

func (s *MemoryLedgerTestSuite) TestConcurrentAcquireHasSingleWinner() {
	ctx := context.Background()

	const holders = 50

	var wg sync.WaitGroup
	wins := make(chan string, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			holder := string(rune('a' + n%26))
			_, err := s.ledger.AcquireMany(ctx, 1, []int{42}, holder, time.Minute)
			if err == nil {
				wins <- holder
			}
		}(i)
	}

	wg.Wait()
	close(wins)

	winners := make(map[string]bool)
	for w := range wins {
		winners[w] = true
	}

	// Distinct holder ids lost; only one identity may have won the seat.
	s.Len(winners, 1)

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.True(winners[records[0].HolderID])
}

func (s *MemoryLedgerTestSuite) TestRenewExtendsWithOriginalLease() {
	ctx := context.Background()

	hold, err := s.ledger.Acquire(ctx, 1, 7, "alice", 2*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)

	renewed, err := s.ledger.Renew(ctx, 1, 7, "alice")
	s.Require().NoError(err)
	s.Equal(hold.ExpiresAt.Add(time.Minute), renewed.ExpiresAt)

	_, err = s.ledger.Renew(ctx, 1, 7, "bob")
	s.ErrorIs(err, domain.ErrNotHolder)

	_, err = s.ledger.Renew(ctx, 1, 99, "alice")
	s.ErrorIs(err, domain.ErrHoldNotFound)
}

func (s *MemoryLedgerTestSuite) TestRenewFailsAfterExpiry() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	_, err = s.ledger.Renew(ctx, 1, 7, "alice")
	s.ErrorIs(err, domain.ErrHoldNotFound)
}

func (s *MemoryLedgerTestSuite) TestReleaseIsIdempotent() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.ledger.Release(ctx, 1, 7, "alice"))
	s.Require().NoError(s.ledger.Release(ctx, 1, 7, "alice"))

	// Releasing a seat that was never held succeeds too.
	s.NoError(s.ledger.Release(ctx, 1, 99, "alice"))
}

func (s *MemoryLedgerTestSuite) TestReleaseRejectsForeignHold() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.ErrorIs(s.ledger.Release(ctx, 1, 7, "bob"), domain.ErrNotHolder)

	// Alice keeps the seat.
	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("alice", records[0].HolderID)
}

func (s *MemoryLedgerTestSuite) TestReleaseOfExpiredHoldReportsExpiry() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	s.Require().NoError(s.ledger.Release(ctx, 1, 7, "alice"))

	events := s.publisher.all()
	s.Require().Len(events, 2)
	s.Equal(domain.EventReleased, events[1].Kind)
	s.Equal(domain.ReleaseExpired, events[1].Reason)
}

func (s *MemoryLedgerTestSuite) TestCommitRequiresFullOwnership() {
	ctx := context.Background()

	_, err := s.ledger.AcquireMany(ctx, 1, []int{7, 8}, "alice", time.Minute)
	s.Require().NoError(err)
	_, err = s.ledger.Acquire(ctx, 1, 9, "bob", time.Minute)
	s.Require().NoError(err)

	err = s.ledger.Commit(ctx, 1, []int{7, 8, 9}, "alice")

	var ownershipErr *domain.PartialOwnershipError
	s.Require().ErrorAs(err, &ownershipErr)
	s.Equal([]int{9}, ownershipErr.SeatIDs)

	// Nothing was freed by the failed commit.
	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Len(records, 3)
}

func (s *MemoryLedgerTestSuite) TestCommitFreesSeatsAsBooked() {
	ctx := context.Background()

	_, err := s.ledger.AcquireMany(ctx, 1, []int{7, 8}, "alice", time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.ledger.Commit(ctx, 1, []int{7, 8}, "alice"))

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Empty(records)

	events := s.publisher.all()
	s.Require().Len(events, 4)
	s.Equal(domain.ReleaseToBooked, events[2].Reason)
	s.Equal(domain.ReleaseToBooked, events[3].Reason)
}

func (s *MemoryLedgerTestSuite) TestSnapshotSkipsExpiredHolds() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)
	_, err = s.ledger.Acquire(ctx, 1, 8, "bob", 5*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(8, records[0].SeatID)
}

func (s *MemoryLedgerTestSuite) TestReapFreesOnlyExpiredHolds() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)
	_, err = s.ledger.Acquire(ctx, 2, 7, "bob", 5*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	freed, err := s.ledger.ReapExpired(ctx, s.clock.Now())
	s.Require().NoError(err)
	s.Equal(1, freed)

	events := s.publisher.all()
	s.Require().Len(events, 3)
	s.Equal(domain.EventReleased, events[2].Kind)
	s.Equal(domain.ReleaseExpired, events[2].Reason)
	s.Equal(1, events[2].ShowtimeID)

	records, err := s.ledger.Snapshot(ctx, 2)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *MemoryLedgerTestSuite) TestReapSkipsRenewedHolds() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", 2*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)

	_, err = s.ledger.Renew(ctx, 1, 7, "alice")
	s.Require().NoError(err)

	// Past the original expiry but not the renewed one; the stale heap entry
	// must not free the hold.
	s.clock.Advance(90 * time.Second)

	freed, err := s.ledger.ReapExpired(ctx, s.clock.Now())
	s.Require().NoError(err)
	s.Equal(0, freed)

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *MemoryLedgerTestSuite) TestAcquireOverExpiredHoldEmitsReleaseFirst() {
	ctx := context.Background()

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	_, err = s.ledger.Acquire(ctx, 1, 7, "bob", time.Minute)
	s.Require().NoError(err)

	events := s.publisher.all()
	s.Require().Len(events, 3)
	s.Equal(domain.EventReleased, events[1].Kind)
	s.Equal(domain.ReleaseExpired, events[1].Reason)
	s.Equal("alice", events[1].HolderID)
	s.Equal(domain.EventHeld, events[2].Kind)
	s.Equal("bob", events[2].HolderID)
}

func (s *MemoryLedgerTestSuite) TestEventOrderMatchesApplyOrder() {
	ctx := context.Background()

	_, err := s.ledger.AcquireMany(ctx, 1, []int{7, 8}, "alice", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.Release(ctx, 1, 7, "alice"))

	events := s.publisher.all()
	s.Require().Len(events, 3)
	s.Equal(domain.EventHeld, events[0].Kind)
	s.Equal(7, events[0].SeatID)
	s.Equal(domain.EventHeld, events[1].Kind)
	s.Equal(8, events[1].SeatID)
	s.Equal(domain.EventReleased, events[2].Kind)
	s.Equal(7, events[2].SeatID)
}

func (s *MemoryLedgerTestSuite) TestRestorePrimesWithoutEvents() {
	ctx := context.Background()
	now := s.clock.Now()

	s.ledger.Restore([]domain.HoldRecord{
		{ShowtimeID: 1, SeatID: 7, HolderID: "alice", AcquiredAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Minute)},
		{ShowtimeID: 1, SeatID: 8, HolderID: "bob", AcquiredAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(-time.Minute)},
	})

	s.Empty(s.publisher.all())

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(7, records[0].SeatID)

	// A restored hold is still owned by its original session.
	_, err = s.ledger.Acquire(ctx, 1, 7, "carol", time.Minute)
	s.ErrorIs(err, domain.ErrSeatUnavailable)
}

func (s *MemoryLedgerTestSuite) TestWriteThroughStore() {
	ctx := context.Background()

	var mu sync.Mutex
	saved := make(map[int]domain.HoldRecord)

	store := &mocks.MockHoldStore{
		SaveFunc: func(ctx context.Context, record domain.HoldRecord) error {
			mu.Lock()
			defer mu.Unlock()
			saved[record.SeatID] = record
			return nil
		},
		DeleteFunc: func(ctx context.Context, showtimeID, seatID int) error {
			mu.Lock()
			defer mu.Unlock()
			delete(saved, seatID)
			return nil
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := NewMemory(s.publisher, logger, WithClock(s.clock.Now), WithStore(store))

	_, err := ledger.AcquireMany(ctx, 1, []int{7, 8}, "alice", time.Minute)
	s.Require().NoError(err)
	s.Len(saved, 2)

	s.Require().NoError(ledger.Release(ctx, 1, 7, "alice"))
	s.Len(saved, 1)

	s.Require().NoError(ledger.Commit(ctx, 1, []int{8}, "alice"))
	s.Empty(saved)
}

func (s *MemoryLedgerTestSuite) TestAcquireNeverLandsInCollectedShard() {
	ctx := context.Background()

	// A stale shard pointer, as held by a mutator that looked the shard up
	// right before the reaper garbage-collected it.
	stale := s.ledger.shard(1)
	s.ledger.dropEmptyShards()
	s.True(stale.dropped)

	live := s.ledger.lockShard(1)
	live.mu.Unlock()
	s.NotSame(stale, live)

	_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Hour)
	s.Require().NoError(err)

	_, err = s.ledger.Acquire(ctx, 1, 7, "bob", time.Hour)
	s.ErrorIs(err, domain.ErrSeatUnavailable)

	records, err := s.ledger.Snapshot(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("alice", records[0].HolderID)
}

func (s *MemoryLedgerTestSuite) TestAcquireRacingReaperStaysExclusive() {
	ctx := context.Background()

	// Each round empties showtime 1 so the reaper keeps collecting its
	// shard while an acquire is in flight on it.
	for i := 0; i < 2000; i++ {
		start := make(chan struct{})
		var wg sync.WaitGroup

		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ledger.Acquire(ctx, 1, 7, "alice", time.Hour)
			s.NoError(err)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ledger.ReapExpired(ctx, s.clock.Now())
			s.NoError(err)
		}()

		close(start)
		wg.Wait()

		_, err := s.ledger.Acquire(ctx, 1, 7, "bob", time.Hour)
		s.Require().ErrorIs(err, domain.ErrSeatUnavailable, "round %d", i)

		records, err := s.ledger.Snapshot(ctx, 1)
		s.Require().NoError(err)
		s.Require().Len(records, 1, "round %d", i)

		s.Require().NoError(s.ledger.Release(ctx, 1, 7, "alice"))

		// Drain the stale heap entries so the shard is empty and collectable
		// again for the next round.
		s.clock.Advance(2 * time.Hour)
		_, err = s.ledger.ReapExpired(ctx, s.clock.Now())
		s.Require().NoError(err)
	}
}

func (s *MemoryLedgerTestSuite) TestStoreWritesNeverOvertakeEarlierOnes() {
	ctx := context.Background()

	var mu sync.Mutex
	var ops []string

	saveStarted := make(chan struct{})
	saveUnblock := make(chan struct{})

	store := &mocks.MockHoldStore{
		SaveFunc: func(ctx context.Context, record domain.HoldRecord) error {
			close(saveStarted)
			<-saveUnblock
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, "save")
			return nil
		},
		DeleteFunc: func(ctx context.Context, showtimeID, seatID int) error {
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, "delete")
			return nil
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := NewMemory(s.publisher, logger, WithClock(s.clock.Now), WithStore(store))

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		_, err := ledger.Acquire(ctx, 1, 7, "alice", time.Minute)
		s.NoError(err)
	}()

	<-saveStarted

	released := make(chan struct{})
	go func() {
		defer close(released)
		s.NoError(ledger.Release(ctx, 1, 7, "alice"))
	}()

	// The release applies in the ledger while the save is still in flight.
	s.Require().Eventually(func() bool {
		records, err := ledger.Snapshot(ctx, 1)
		return err == nil && len(records) == 0
	}, time.Second, 5*time.Millisecond)

	// But its delete must not have reached the store yet.
	mu.Lock()
	s.Empty(ops)
	mu.Unlock()

	close(saveUnblock)
	<-acquired
	<-released

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"save", "delete"}, ops)
}
