package fuelsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/shared"
)

// Repository resolves card assignments and dedup candidates.
type Repository interface {
	FindActiveAssignment(ctx context.Context, cardLastFour string) (CardAssignment, error)
	// CandidateExpenses returns the driver's fuel expenses purchased within
	// a day either side of occurredAt, wide enough to absorb timezone skew.
	CandidateExpenses(ctx context.Context, driverID int64, occurredAt time.Time) ([]ledger.FuelExpense, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) FindActiveAssignment(ctx context.Context, cardLastFour string) (CardAssignment, error) {
	var a CardAssignment
	err := r.pool.QueryRow(ctx, `SELECT card_last_four, driver_id, company_id, active
FROM card_assignments WHERE card_last_four=$1 AND active LIMIT 1`, cardLastFour).
		Scan(&a.CardLastFour, &a.DriverID, &a.CompanyID, &a.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CardAssignment{}, shared.ErrNotFound
		}
		return CardAssignment{}, err
	}
	return a, nil
}

func (r *repository) CandidateExpenses(ctx context.Context, driverID int64, occurredAt time.Time) ([]ledger.FuelExpense, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, period_id, driver_id, amount, purchased_at, card_last_four, invoice_number, station_name, created_at
FROM fuel_expenses WHERE driver_id=$1 AND purchased_at BETWEEN $2 AND $3 ORDER BY id`,
		driverID, occurredAt.AddDate(0, 0, -1), occurredAt.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.FuelExpense
	for rows.Next() {
		var f ledger.FuelExpense
		if err := rows.Scan(&f.ID, &f.PeriodID, &f.DriverID, &f.Amount, &f.PurchasedAt,
			&f.CardLastFour, &f.InvoiceNumber, &f.StationName, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
