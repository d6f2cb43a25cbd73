package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/fleetops/internal/shared"
)

// ErrDuplicateRange indicates another caller created the same window first.
var ErrDuplicateRange = errors.New("periods: duplicate period range")

// Repository persists pay periods and company schedules.
type Repository interface {
	FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	Insert(ctx context.Context, p Period) (Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Period, error)
	GetSchedule(ctx context.Context, companyID int64) (PaySchedule, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetLocked(ctx context.Context, id int64) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by Postgres.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const periodColumns = `id, company_id, start_date, end_date, frequency, status, locked, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.StartDate, &p.EndDate, &p.Frequency, &p.Status, &p.Locked, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// FindByDate returns the company period whose window contains date.
func (r *repository) FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+`
FROM payment_periods WHERE company_id=$1 AND $2 BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1`, companyID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// Insert creates a period. A unique index on (company_id, start_date, end_date)
// turns concurrent first-touch into ErrDuplicateRange for the loser.
func (r *repository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO payment_periods (company_id, start_date, end_date, frequency, status, locked)
VALUES ($1,$2,$3,$4,$5,false) RETURNING `+periodColumns, p.CompanyID, p.StartDate, p.EndDate, p.Frequency, p.Status)
	created, err := scanPeriod(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Period{}, ErrDuplicateRange
		}
		return Period{}, err
	}
	return created, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM payment_periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM payment_periods
WHERE company_id=$1 ORDER BY start_date DESC LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSchedule loads the company pay schedule.
func (r *repository) GetSchedule(ctx context.Context, companyID int64) (PaySchedule, error) {
	var s PaySchedule
	err := r.pool.QueryRow(ctx, `SELECT company_id, frequency, anchor_date FROM pay_schedules WHERE company_id=$1`, companyID).
		Scan(&s.CompanyID, &s.Frequency, &s.AnchorDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaySchedule{}, shared.ErrNoSchedule
		}
		return PaySchedule{}, err
	}
	return s, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_periods SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetLocked(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_periods SET locked=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetForUpdate locks a period row for the duration of tx.
func (r *repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM payment_periods WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
