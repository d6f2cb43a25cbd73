package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/observability"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// PeriodGuard checks that a period accepts content mutations.
type PeriodGuard interface {
	GuardMutable(ctx context.Context, periodID int64) (periods.Period, error)
}

// Service is the ledger aggregator. Every element mutation funnels through
// a recompute rather than patching totals in place.
type Service struct {
	repo    Repository
	guard   PeriodGuard
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService constructs a Service instance.
func NewService(repo Repository, guard PeriodGuard, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, guard: guard, logger: logger, metrics: metrics}
}

// Recompute re-reads every element currently scoped to (periodID, driverID)
// and rewrites the calculation row. The calculation row lock serializes
// concurrent recomputes for the pair; reading inside the same transaction
// keeps the sums consistent with the then-current element set. Idempotent.
func (s *Service) Recompute(ctx context.Context, periodID, driverID int64) (Calculation, error) {
	var calc Calculation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		calc, err = s.recompute(ctx, tx, periodID, driverID)
		return err
	})
	s.metrics.ObserveRecompute(err)
	if err != nil {
		return Calculation{}, err
	}
	s.logger.Debug("ledger recomputed",
		slog.Int64("period_id", periodID),
		slog.Int64("driver_id", driverID),
		slog.String("net_payment", calc.NetPayment.String()))
	return calc, nil
}

// RecomputeInTx runs the aggregate pass against a caller-owned transaction,
// so an element mutation and the recomputes it forces commit or roll back
// together.
func (s *Service) RecomputeInTx(ctx context.Context, tx TxRepository, periodID, driverID int64) (Calculation, error) {
	calc, err := s.recompute(ctx, tx, periodID, driverID)
	s.metrics.ObserveRecompute(err)
	if err != nil {
		return Calculation{}, err
	}
	return calc, nil
}

func (s *Service) recompute(ctx context.Context, tx TxRepository, periodID, driverID int64) (Calculation, error) {
	if _, err := tx.LockCalculation(ctx, periodID, driverID); err != nil {
		return Calculation{}, fmt.Errorf("ledger: lock calculation: %w", err)
	}
	gross, err := tx.SumLoads(ctx, periodID, driverID)
	if err != nil {
		return Calculation{}, fmt.Errorf("ledger: sum loads: %w", err)
	}
	other, err := tx.SumOtherIncome(ctx, periodID, driverID)
	if err != nil {
		return Calculation{}, fmt.Errorf("ledger: sum other income: %w", err)
	}
	fuel, err := tx.SumFuelExpenses(ctx, periodID, driverID)
	if err != nil {
		return Calculation{}, fmt.Errorf("ledger: sum fuel expenses: %w", err)
	}
	instances, err := tx.ListInstances(ctx, periodID, driverID)
	if err != nil {
		return Calculation{}, fmt.Errorf("ledger: list instances: %w", err)
	}

	computed, allocated := Compute(Inputs{
		GrossEarnings: gross,
		OtherIncome:   other,
		FuelExpenses:  fuel,
		Instances:     instances,
	})
	previous := make(map[int64]InstanceStatus, len(instances))
	for _, inst := range instances {
		previous[inst.ID] = inst.Status
	}
	for _, inst := range allocated {
		if inst.Status == previous[inst.ID] {
			continue
		}
		if err := tx.SetInstanceStatus(ctx, inst.ID, inst.Status); err != nil {
			return Calculation{}, fmt.Errorf("ledger: set instance status: %w", err)
		}
	}
	computed.PeriodID = periodID
	computed.DriverID = driverID
	return tx.SaveCalculation(ctx, computed)
}

// Get returns the current calculation for a (period, driver) pair.
func (s *Service) Get(ctx context.Context, periodID, driverID int64) (Calculation, error) {
	return s.repo.GetCalculation(ctx, periodID, driverID)
}

// CreateLoadInput carries a new load row.
type CreateLoadInput struct {
	PeriodID  int64
	DriverID  int64
	Amount    decimal.Decimal
	Reference string
}

// CreateLoad records hauling revenue and recomputes the pair.
func (s *Service) CreateLoad(ctx context.Context, in CreateLoadInput) (Load, error) {
	if err := validateElement(in.PeriodID, in.DriverID, in.Amount); err != nil {
		return Load{}, err
	}
	if _, err := s.guard.GuardMutable(ctx, in.PeriodID); err != nil {
		return Load{}, err
	}
	load, err := s.repo.InsertLoad(ctx, Load{
		PeriodID:  in.PeriodID,
		DriverID:  in.DriverID,
		Amount:    in.Amount,
		Reference: strings.TrimSpace(in.Reference),
	})
	if err != nil {
		return Load{}, err
	}
	if _, err := s.Recompute(ctx, in.PeriodID, in.DriverID); err != nil {
		return Load{}, err
	}
	return load, nil
}

// CreateFuelExpenseInput carries a manually entered fuel purchase.
type CreateFuelExpenseInput struct {
	PeriodID      int64
	DriverID      int64
	Amount        decimal.Decimal
	PurchasedAt   time.Time
	CardLastFour  string
	InvoiceNumber *string
	StationName   *string
}

// CreateFuelExpense records a fuel purchase and recomputes the pair.
func (s *Service) CreateFuelExpense(ctx context.Context, in CreateFuelExpenseInput) (FuelExpense, error) {
	if err := validateElement(in.PeriodID, in.DriverID, in.Amount); err != nil {
		return FuelExpense{}, err
	}
	if _, err := s.guard.GuardMutable(ctx, in.PeriodID); err != nil {
		return FuelExpense{}, err
	}
	expense, err := s.repo.InsertFuelExpense(ctx, FuelExpense{
		PeriodID:      in.PeriodID,
		DriverID:      in.DriverID,
		Amount:        in.Amount,
		PurchasedAt:   in.PurchasedAt,
		CardLastFour:  in.CardLastFour,
		InvoiceNumber: in.InvoiceNumber,
		StationName:   in.StationName,
	})
	if err != nil {
		return FuelExpense{}, err
	}
	if _, err := s.Recompute(ctx, in.PeriodID, in.DriverID); err != nil {
		return FuelExpense{}, err
	}
	return expense, nil
}

// CreateOtherIncomeInput carries a non-load income row.
type CreateOtherIncomeInput struct {
	PeriodID    int64
	DriverID    int64
	Amount      decimal.Decimal
	Description string
}

// CreateOtherIncome records other income and recomputes the pair.
func (s *Service) CreateOtherIncome(ctx context.Context, in CreateOtherIncomeInput) (OtherIncome, error) {
	if err := validateElement(in.PeriodID, in.DriverID, in.Amount); err != nil {
		return OtherIncome{}, err
	}
	if _, err := s.guard.GuardMutable(ctx, in.PeriodID); err != nil {
		return OtherIncome{}, err
	}
	income, err := s.repo.InsertOtherIncome(ctx, OtherIncome{
		PeriodID:    in.PeriodID,
		DriverID:    in.DriverID,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
	})
	if err != nil {
		return OtherIncome{}, err
	}
	if _, err := s.Recompute(ctx, in.PeriodID, in.DriverID); err != nil {
		return OtherIncome{}, err
	}
	return income, nil
}

// DeleteElement removes an element and recomputes its pair.
func (s *Service) DeleteElement(ctx context.Context, kind ElementKind, id int64) error {
	element, err := s.repo.ResolveElement(ctx, kind, id)
	if err != nil {
		return err
	}
	if _, err := s.guard.GuardMutable(ctx, element.PeriodID); err != nil {
		return err
	}
	if err := s.repo.DeleteElement(ctx, kind, id); err != nil {
		return err
	}
	_, err = s.Recompute(ctx, element.PeriodID, element.DriverID)
	return err
}

func validateElement(periodID, driverID int64, amount decimal.Decimal) error {
	if periodID == 0 || driverID == 0 {
		return fmt.Errorf("%w: period and driver are required", shared.ErrValidation)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	return nil
}
