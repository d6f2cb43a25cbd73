package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/shared"
)

// TxRepository exposes the operations a recompute performs inside one
// transaction.
type TxRepository interface {
	// LockCalculation upserts the (period, driver) calculation row and takes
	// a row lock, serializing concurrent recomputes for the same pair.
	LockCalculation(ctx context.Context, periodID, driverID int64) (Calculation, error)
	SumLoads(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error)
	SumOtherIncome(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error)
	SumFuelExpenses(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error)
	ListInstances(ctx context.Context, periodID, driverID int64) ([]ExpenseInstance, error)
	SetInstanceStatus(ctx context.Context, instanceID int64, status InstanceStatus) error
	SaveCalculation(ctx context.Context, calc Calculation) (Calculation, error)
	ResolveElement(ctx context.Context, kind ElementKind, id int64) (Element, error)
	UpdateElementPeriod(ctx context.Context, kind ElementKind, id, newPeriodID int64) error
}

// Repository persists ledger elements and calculations.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCalculation(ctx context.Context, periodID, driverID int64) (Calculation, error)
	InsertLoad(ctx context.Context, l Load) (Load, error)
	InsertFuelExpense(ctx context.Context, f FuelExpense) (FuelExpense, error)
	InsertOtherIncome(ctx context.Context, o OtherIncome) (OtherIncome, error)
	ResolveElement(ctx context.Context, kind ElementKind, id int64) (Element, error)
	DeleteElement(ctx context.Context, kind ElementKind, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const calcColumns = `id, period_id, driver_id, gross_earnings, other_income, fuel_expenses, total_deductions, net_payment, has_negative_balance, updated_at`

func scanCalc(row pgx.Row) (Calculation, error) {
	var c Calculation
	err := row.Scan(&c.ID, &c.PeriodID, &c.DriverID, &c.GrossEarnings, &c.OtherIncome, &c.FuelExpenses,
		&c.TotalDeductions, &c.NetPayment, &c.HasNegativeBalance, &c.UpdatedAt)
	return c, err
}

func (r *repository) GetCalculation(ctx context.Context, periodID, driverID int64) (Calculation, error) {
	c, err := scanCalc(r.pool.QueryRow(ctx, `SELECT `+calcColumns+`
FROM driver_period_calcs WHERE period_id=$1 AND driver_id=$2`, periodID, driverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Calculation{}, shared.ErrNotFound
		}
		return Calculation{}, err
	}
	return c, nil
}

func (r *txRepository) LockCalculation(ctx context.Context, periodID, driverID int64) (Calculation, error) {
	// Lazy creation on first touch; ON CONFLICT keeps concurrent first
	// recomputes from racing the insert.
	if _, err := r.tx.Exec(ctx, `INSERT INTO driver_period_calcs (period_id, driver_id)
VALUES ($1,$2) ON CONFLICT (period_id, driver_id) DO NOTHING`, periodID, driverID); err != nil {
		return Calculation{}, err
	}
	return scanCalc(r.tx.QueryRow(ctx, `SELECT `+calcColumns+`
FROM driver_period_calcs WHERE period_id=$1 AND driver_id=$2 FOR UPDATE`, periodID, driverID))
}

func (r *txRepository) sum(ctx context.Context, query string, periodID, driverID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.tx.QueryRow(ctx, query, periodID, driverID).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (r *txRepository) SumLoads(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error) {
	return r.sum(ctx, `SELECT COALESCE(SUM(amount),0) FROM loads WHERE period_id=$1 AND driver_id=$2`, periodID, driverID)
}

func (r *txRepository) SumOtherIncome(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error) {
	return r.sum(ctx, `SELECT COALESCE(SUM(amount),0) FROM other_income WHERE period_id=$1 AND driver_id=$2`, periodID, driverID)
}

func (r *txRepository) SumFuelExpenses(ctx context.Context, periodID, driverID int64) (decimal.Decimal, error) {
	return r.sum(ctx, `SELECT COALESCE(SUM(amount),0) FROM fuel_expenses WHERE period_id=$1 AND driver_id=$2`, periodID, driverID)
}

func (r *txRepository) ListInstances(ctx context.Context, periodID, driverID int64) ([]ExpenseInstance, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, period_id, driver_id, template_id, amount, description, status, priority, is_critical, created_at, updated_at
FROM expense_instances WHERE period_id=$1 AND driver_id=$2 ORDER BY priority, id`, periodID, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExpenseInstance
	for rows.Next() {
		var in ExpenseInstance
		if err := rows.Scan(&in.ID, &in.PeriodID, &in.DriverID, &in.TemplateID, &in.Amount, &in.Description,
			&in.Status, &in.Priority, &in.IsCritical, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *txRepository) SetInstanceStatus(ctx context.Context, instanceID int64, status InstanceStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE expense_instances SET status=$2, updated_at=NOW() WHERE id=$1`, instanceID, status)
	return err
}

func (r *txRepository) SaveCalculation(ctx context.Context, calc Calculation) (Calculation, error) {
	return scanCalc(r.tx.QueryRow(ctx, `UPDATE driver_period_calcs
SET gross_earnings=$3, other_income=$4, fuel_expenses=$5, total_deductions=$6, net_payment=$7, has_negative_balance=$8, updated_at=NOW()
WHERE period_id=$1 AND driver_id=$2 RETURNING `+calcColumns,
		calc.PeriodID, calc.DriverID, calc.GrossEarnings, calc.OtherIncome, calc.FuelExpenses,
		calc.TotalDeductions, calc.NetPayment, calc.HasNegativeBalance))
}

// elementTables maps each kind to its table. The period reference of every
// element row is mutated exclusively through UpdateElementPeriod.
var elementTables = map[ElementKind]string{
	KindLoad:            "loads",
	KindFuelExpense:     "fuel_expenses",
	KindExpenseInstance: "expense_instances",
	KindOtherIncome:     "other_income",
}

func resolveElement(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, kind ElementKind, id int64) (Element, error) {
	table, ok := elementTables[kind]
	if !ok {
		return Element{}, fmt.Errorf("%w: unknown element type %q", shared.ErrValidation, kind)
	}
	var e Element
	e.Kind = kind
	err := q.QueryRow(ctx, `SELECT id, period_id, driver_id, amount FROM `+table+` WHERE id=$1`, id).
		Scan(&e.ID, &e.PeriodID, &e.DriverID, &e.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Element{}, shared.ErrNotFound
		}
		return Element{}, err
	}
	return e, nil
}

func (r *repository) ResolveElement(ctx context.Context, kind ElementKind, id int64) (Element, error) {
	return resolveElement(ctx, r.pool, kind, id)
}

func (r *txRepository) ResolveElement(ctx context.Context, kind ElementKind, id int64) (Element, error) {
	return resolveElement(ctx, r.tx, kind, id)
}

func (r *txRepository) UpdateElementPeriod(ctx context.Context, kind ElementKind, id, newPeriodID int64) error {
	table, ok := elementTables[kind]
	if !ok {
		return fmt.Errorf("%w: unknown element type %q", shared.ErrValidation, kind)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE `+table+` SET period_id=$2 WHERE id=$1`, id, newPeriodID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) InsertLoad(ctx context.Context, l Load) (Load, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO loads (period_id, driver_id, amount, reference)
VALUES ($1,$2,$3,$4) RETURNING id, created_at`, l.PeriodID, l.DriverID, l.Amount, l.Reference).
		Scan(&l.ID, &l.CreatedAt)
	return l, err
}

func (r *repository) InsertFuelExpense(ctx context.Context, f FuelExpense) (FuelExpense, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO fuel_expenses (period_id, driver_id, amount, purchased_at, card_last_four, invoice_number, station_name)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		f.PeriodID, f.DriverID, f.Amount, f.PurchasedAt, f.CardLastFour, f.InvoiceNumber, f.StationName).
		Scan(&f.ID, &f.CreatedAt)
	return f, err
}

func (r *repository) InsertOtherIncome(ctx context.Context, o OtherIncome) (OtherIncome, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO other_income (period_id, driver_id, amount, description)
VALUES ($1,$2,$3,$4) RETURNING id, created_at`, o.PeriodID, o.DriverID, o.Amount, o.Description).
		Scan(&o.ID, &o.CreatedAt)
	return o, err
}

func (r *repository) DeleteElement(ctx context.Context, kind ElementKind, id int64) error {
	table, ok := elementTables[kind]
	if !ok {
		return fmt.Errorf("%w: unknown element type %q", shared.ErrValidation, kind)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
