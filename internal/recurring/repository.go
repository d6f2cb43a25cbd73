package recurring

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/shared"
)

// Repository persists templates, exclusions, and template-linked instances.
type Repository interface {
	GetTemplate(ctx context.Context, id int64) (Template, error)
	InsertTemplate(ctx context.Context, t Template) (Template, error)
	ListTemplatesByDriver(ctx context.Context, driverID int64) ([]Template, error)
	ListActiveTemplates(ctx context.Context) ([]Template, error)
	IsExcluded(ctx context.Context, templateID, periodID int64) (bool, error)
	InsertExclusion(ctx context.Context, e Exclusion) error
	DeleteExclusion(ctx context.Context, templateID, periodID int64) error
	ListExclusions(ctx context.Context, templateID int64) ([]Exclusion, error)
	FindInstance(ctx context.Context, templateID, periodID int64) (ledger.ExpenseInstance, error)
	InsertInstance(ctx context.Context, in ledger.ExpenseInstance) (ledger.ExpenseInstance, error)
	DeleteInstance(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const templateColumns = `id, company_id, driver_id, amount, frequency, month_week, expense_type, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.CompanyID, &t.DriverID, &t.Amount, &t.Frequency, &t.MonthWeek, &t.ExpenseType, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *repository) GetTemplate(ctx context.Context, id int64) (Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_expense_templates WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, shared.ErrNotFound
		}
		return Template{}, err
	}
	return t, nil
}

func (r *repository) InsertTemplate(ctx context.Context, t Template) (Template, error) {
	return scanTemplate(r.pool.QueryRow(ctx, `INSERT INTO recurring_expense_templates
(company_id, driver_id, amount, frequency, month_week, expense_type, active)
VALUES ($1,$2,$3,$4,$5,$6,true) RETURNING `+templateColumns,
		t.CompanyID, t.DriverID, t.Amount, t.Frequency, t.MonthWeek, t.ExpenseType))
}

func (r *repository) listTemplates(ctx context.Context, query string, args ...any) ([]Template, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) ListTemplatesByDriver(ctx context.Context, driverID int64) ([]Template, error) {
	return r.listTemplates(ctx, `SELECT `+templateColumns+` FROM recurring_expense_templates WHERE driver_id=$1 ORDER BY id`, driverID)
}

func (r *repository) ListActiveTemplates(ctx context.Context) ([]Template, error) {
	return r.listTemplates(ctx, `SELECT `+templateColumns+` FROM recurring_expense_templates WHERE active ORDER BY id`)
}

func (r *repository) IsExcluded(ctx context.Context, templateID, periodID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM template_period_exclusions WHERE template_id=$1 AND period_id=$2)`,
		templateID, periodID).Scan(&exists)
	return exists, err
}

func (r *repository) InsertExclusion(ctx context.Context, e Exclusion) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO template_period_exclusions (template_id, period_id, reason) VALUES ($1,$2,$3)`,
		e.TemplateID, e.PeriodID, e.Reason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrAlreadyExcluded
		}
		return err
	}
	return nil
}

func (r *repository) DeleteExclusion(ctx context.Context, templateID, periodID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM template_period_exclusions WHERE template_id=$1 AND period_id=$2`, templateID, periodID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotExcluded
	}
	return nil
}

func (r *repository) ListExclusions(ctx context.Context, templateID int64) ([]Exclusion, error) {
	rows, err := r.pool.Query(ctx, `SELECT template_id, period_id, reason, created_at FROM template_period_exclusions WHERE template_id=$1 ORDER BY period_id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exclusion
	for rows.Next() {
		var e Exclusion
		if err := rows.Scan(&e.TemplateID, &e.PeriodID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const instanceColumns = `id, period_id, driver_id, template_id, amount, description, status, priority, is_critical, created_at, updated_at`

func scanInstance(row pgx.Row) (ledger.ExpenseInstance, error) {
	var in ledger.ExpenseInstance
	err := row.Scan(&in.ID, &in.PeriodID, &in.DriverID, &in.TemplateID, &in.Amount, &in.Description,
		&in.Status, &in.Priority, &in.IsCritical, &in.CreatedAt, &in.UpdatedAt)
	return in, err
}

func (r *repository) FindInstance(ctx context.Context, templateID, periodID int64) (ledger.ExpenseInstance, error) {
	in, err := scanInstance(r.pool.QueryRow(ctx, `SELECT `+instanceColumns+`
FROM expense_instances WHERE template_id=$1 AND period_id=$2`, templateID, periodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ExpenseInstance{}, shared.ErrNotFound
		}
		return ledger.ExpenseInstance{}, err
	}
	return in, nil
}

func (r *repository) InsertInstance(ctx context.Context, in ledger.ExpenseInstance) (ledger.ExpenseInstance, error) {
	return scanInstance(r.pool.QueryRow(ctx, `INSERT INTO expense_instances
(period_id, driver_id, template_id, amount, description, status, priority, is_critical)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+instanceColumns,
		in.PeriodID, in.DriverID, in.TemplateID, in.Amount, in.Description, in.Status, in.Priority, in.IsCritical))
}

func (r *repository) DeleteInstance(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM expense_instances WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
