package eventual

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/fleetops/internal/ledger"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) InsertInstance(ctx context.Context, in ledger.ExpenseInstance) (ledger.ExpenseInstance, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO expense_instances
(period_id, driver_id, template_id, amount, description, status, priority, is_critical)
VALUES ($1,$2,NULL,$3,$4,$5,$6,$7)
RETURNING id, created_at, updated_at`,
		in.PeriodID, in.DriverID, in.Amount, in.Description, in.Status, in.Priority, in.IsCritical).
		Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	return in, err
}
