package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cinexhq/seathold/internal/domain"
)

// PostgresHoldRepository persists hold records so a restart does not forget
// live leases. The in-memory ledger remains authoritative; rows here are a
// write-through copy reloaded at startup.
type PostgresHoldRepository struct {
	db *pgxpool.Pool
}

func NewPostgresHoldRepository(db *pgxpool.Pool) *PostgresHoldRepository {
	return &PostgresHoldRepository{
		db: db,
	}
}

func (p *PostgresHoldRepository) Save(ctx context.Context, record domain.HoldRecord) error {
	query := `
		INSERT INTO seat_holds (showtime_id, seat_id, holder_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (showtime_id, seat_id)
		DO UPDATE SET holder_id = $3, acquired_at = $4, expires_at = $5
	`

	_, err := p.db.Exec(ctx, query,
		record.ShowtimeID, record.SeatID, record.HolderID, record.AcquiredAt, record.ExpiresAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return domain.ErrRecordNotFound
	}

	return err
}

func (p *PostgresHoldRepository) Delete(ctx context.Context, showtimeID, seatID int) error {
	query := `
		DELETE FROM seat_holds
		WHERE showtime_id = $1 AND seat_id = $2
	`

	_, err := p.db.Exec(ctx, query, showtimeID, seatID)

	return err
}

func (p *PostgresHoldRepository) LoadActive(ctx context.Context, now time.Time) ([]domain.HoldRecord, error) {
	query := `
		SELECT showtime_id, seat_id, holder_id, acquired_at, expires_at
		FROM seat_holds
		WHERE expires_at > $1
		ORDER BY showtime_id, seat_id
	`

	rows, err := p.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HoldRecord

	for rows.Next() {
		var record domain.HoldRecord

		err = rows.Scan(
			&record.ShowtimeID,
			&record.SeatID,
			&record.HolderID,
			&record.AcquiredAt,
			&record.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// PruneExpired deletes rows whose lease ended before now. Called once at
// startup after LoadActive so abandoned rows do not pile up.
func (p *PostgresHoldRepository) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM seat_holds
		WHERE expires_at <= $1
	`

	tag, err := p.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}

	return int(tag.RowsAffected()), nil
}
