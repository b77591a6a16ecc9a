package integration_test

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"

	"github.com/cinexhq/seathold/internal/domain"
	"github.com/cinexhq/seathold/internal/repository"
)

type PostgresSuite struct {
	suite.Suite
	container *PostgresContainer
	db        *pgxpool.Pool
	seatRepo  *repository.PostgresSeatRepository
	holdRepo  *repository.PostgresHoldRepository

	showtimeID int
	seatIDs    []int
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()

	container, err := getDbContainer(ctx)
	if err != nil {
		log.Printf("failed to start container: %s", err)
		return
	}
	s.container = container

	db, err := pgxpool.New(ctx, container.ConnectionString)
	if err != nil {
		log.Printf("failed to connect: %s", err)
		return
	}
	s.db = db

	s.seatRepo = repository.NewPostgresSeatRepository(db)
	s.holdRepo = repository.NewPostgresHoldRepository(db)

	s.seedFixtures(ctx)
}

// seedFixtures creates one theater with a 2x2 hall and one showtime.
func (s *PostgresSuite) seedFixtures(ctx context.Context) {
	var theaterID, hallID int

	err := s.db.QueryRow(ctx,
		`INSERT INTO theaters (name) VALUES ('Grand Plaza') RETURNING id`).Scan(&theaterID)
	s.Require().NoError(err)

	err = s.db.QueryRow(ctx,
		`INSERT INTO halls (theater_id, name) VALUES ($1, 'Hall A') RETURNING id`, theaterID).Scan(&hallID)
	s.Require().NoError(err)

	seats := []struct {
		row, col int
		seatType string
		extra    string
	}{
		{1, 1, "Standard", "0.00"},
		{1, 2, "Standard", "0.00"},
		{2, 1, "VIP", "5.00"},
		{2, 2, "VIP", "5.00"},
	}

	for _, seat := range seats {
		var seatID int
		err = s.db.QueryRow(ctx,
			`INSERT INTO seats (hall_id, seat_row, seat_col, seat_type, extra_price)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			hallID, seat.row, seat.col, seat.seatType, seat.extra).Scan(&seatID)
		s.Require().NoError(err)
		s.seatIDs = append(s.seatIDs, seatID)
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO showtimes (hall_id, starts_at) VALUES ($1, now() + interval '1 day') RETURNING id`,
		hallID).Scan(&s.showtimeID)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		if err := testcontainers.TerminateContainer(s.container.Container.Container); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	}
}

func (s *PostgresSuite) SetupTest() {
	if s.db == nil {
		s.T().Skip("postgres container unavailable")
	}

	_, err := s.db.Exec(context.Background(), `DELETE FROM seat_holds`)
	s.Require().NoError(err)
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) TestGetSeatsByShowtime() {
	ctx := context.Background()

	showtimeSeats, err := s.seatRepo.GetSeatsByShowtime(ctx, s.showtimeID)
	s.Require().NoError(err)

	s.Equal("Grand Plaza", showtimeSeats.TheaterName)
	s.Equal("Hall A", showtimeSeats.HallName)
	s.Require().Len(showtimeSeats.Seats, 4)

	// Row-major order, all available, pricing retained.
	s.Equal(1, showtimeSeats.Seats[0].Row)
	s.Equal(1, showtimeSeats.Seats[0].Col)
	s.True(showtimeSeats.Seats[0].Available)
	s.Equal("VIP", showtimeSeats.Seats[3].Type)
	s.Equal("5.00", showtimeSeats.Seats[3].ExtraPrice.StringFixed(2))
}

func (s *PostgresSuite) TestGetSeatsByShowtimeNotFound() {
	_, err := s.seatRepo.GetSeatsByShowtime(context.Background(), 999999)
	s.ErrorIs(err, domain.ErrRecordNotFound)
}

func (s *PostgresSuite) TestGetSeatsByShowtimeAndSeatIds() {
	ctx := context.Background()

	subset := []int{s.seatIDs[0], s.seatIDs[2]}

	showtimeSeats, err := s.seatRepo.GetSeatsByShowtimeAndSeatIds(ctx, s.showtimeID, subset)
	s.Require().NoError(err)
	s.Require().Len(showtimeSeats.Seats, 2)

	// Unknown ids simply do not come back; the caller detects the mismatch.
	showtimeSeats, err = s.seatRepo.GetSeatsByShowtimeAndSeatIds(ctx, s.showtimeID, []int{s.seatIDs[0], 999999})
	s.Require().NoError(err)
	s.Len(showtimeSeats.Seats, 1)
}

func (s *PostgresSuite) TestHoldRoundTrip() {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	record := domain.HoldRecord{
		ShowtimeID: s.showtimeID,
		SeatID:     s.seatIDs[0],
		HolderID:   "session-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}

	s.Require().NoError(s.holdRepo.Save(ctx, record))

	// Upsert on renew: same key, later expiry.
	record.ExpiresAt = now.Add(10 * time.Minute)
	s.Require().NoError(s.holdRepo.Save(ctx, record))

	records, err := s.holdRepo.LoadActive(ctx, now)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("session-1", records[0].HolderID)
	s.True(records[0].ExpiresAt.Equal(record.ExpiresAt))

	s.Require().NoError(s.holdRepo.Delete(ctx, record.ShowtimeID, record.SeatID))

	records, err = s.holdRepo.LoadActive(ctx, now)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *PostgresSuite) TestSaveRejectsUnknownSeat() {
	now := time.Now()

	err := s.holdRepo.Save(context.Background(), domain.HoldRecord{
		ShowtimeID: s.showtimeID,
		SeatID:     999999,
		HolderID:   "session-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Minute),
	})

	s.ErrorIs(err, domain.ErrRecordNotFound)
}

func (s *PostgresSuite) TestLoadActiveSkipsExpiredAndPruneRemovesThem() {
	ctx := context.Background()
	now := time.Now()

	live := domain.HoldRecord{
		ShowtimeID: s.showtimeID,
		SeatID:     s.seatIDs[0],
		HolderID:   "session-1",
		AcquiredAt: now.Add(-time.Minute),
		ExpiresAt:  now.Add(5 * time.Minute),
	}
	expired := domain.HoldRecord{
		ShowtimeID: s.showtimeID,
		SeatID:     s.seatIDs[1],
		HolderID:   "session-2",
		AcquiredAt: now.Add(-10 * time.Minute),
		ExpiresAt:  now.Add(-5 * time.Minute),
	}

	s.Require().NoError(s.holdRepo.Save(ctx, live))
	s.Require().NoError(s.holdRepo.Save(ctx, expired))

	records, err := s.holdRepo.LoadActive(ctx, now)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(s.seatIDs[0], records[0].SeatID)

	pruned, err := s.holdRepo.PruneExpired(ctx, now)
	s.Require().NoError(err)
	s.Equal(1, pruned)

	var remaining int
	err = s.db.QueryRow(ctx, `SELECT count(*) FROM seat_holds`).Scan(&remaining)
	s.Require().NoError(err)
	s.Equal(1, remaining)
}
