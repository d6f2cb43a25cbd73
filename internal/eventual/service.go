// Package eventual records one-off, manually entered deductions. Unlike
// recurring instances they carry no template reference; their priority and
// criticality flags drive the ledger's allocation ordering.
package eventual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// PeriodGuard checks that a period accepts content mutations.
type PeriodGuard interface {
	GuardMutable(ctx context.Context, periodID int64) (periods.Period, error)
}

// Recomputer triggers ledger recomputation after instance mutations.
type Recomputer interface {
	Recompute(ctx context.Context, periodID, driverID int64) (ledger.Calculation, error)
}

// Repository persists ad-hoc deduction instances.
type Repository interface {
	InsertInstance(ctx context.Context, in ledger.ExpenseInstance) (ledger.ExpenseInstance, error)
}

// Service handles eventual (ad-hoc) deductions.
type Service struct {
	repo   Repository
	guard  PeriodGuard
	ledger Recomputer
	logger *slog.Logger
}

// NewService constructs a Service instance.
func NewService(repo Repository, guard PeriodGuard, recomputer Recomputer, logger *slog.Logger) *Service {
	return &Service{repo: repo, guard: guard, ledger: recomputer, logger: logger}
}

// CreateInput carries a new eventual deduction.
type CreateInput struct {
	PeriodID    int64
	DriverID    int64
	Amount      decimal.Decimal
	Description string
	IsCritical  bool
	Priority    *int
}

// Create records a one-off deduction. Critical deductions are forced to the
// most urgent rank and apply unconditionally during recompute; non-critical
// ones default to mid-range priority and may be deferred by allocation.
func (s *Service) Create(ctx context.Context, in CreateInput) (ledger.ExpenseInstance, error) {
	if in.PeriodID == 0 || in.DriverID == 0 {
		return ledger.ExpenseInstance{}, fmt.Errorf("%w: period and driver are required", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return ledger.ExpenseInstance{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return ledger.ExpenseInstance{}, fmt.Errorf("%w: description is required", shared.ErrValidation)
	}

	priority := ledger.PriorityDefault
	switch {
	case in.IsCritical:
		priority = ledger.PriorityCritical
	case in.Priority != nil:
		if *in.Priority < ledger.PriorityCritical || *in.Priority > ledger.PriorityMax {
			return ledger.ExpenseInstance{}, fmt.Errorf("%w: priority must be between %d and %d",
				shared.ErrValidation, ledger.PriorityCritical, ledger.PriorityMax)
		}
		priority = *in.Priority
	}

	if _, err := s.guard.GuardMutable(ctx, in.PeriodID); err != nil {
		// A deduction against an ineligible period reports PeriodLocked.
		if errors.Is(err, shared.ErrPeriodNotOpen) {
			return ledger.ExpenseInstance{}, shared.ErrPeriodLocked
		}
		return ledger.ExpenseInstance{}, err
	}

	instance, err := s.repo.InsertInstance(ctx, ledger.ExpenseInstance{
		PeriodID:    in.PeriodID,
		DriverID:    in.DriverID,
		Amount:      in.Amount,
		Description: description,
		Status:      ledger.InstancePlanned,
		Priority:    priority,
		IsCritical:  in.IsCritical,
	})
	if err != nil {
		return ledger.ExpenseInstance{}, err
	}
	if _, err := s.ledger.Recompute(ctx, in.PeriodID, in.DriverID); err != nil {
		return ledger.ExpenseInstance{}, err
	}
	s.logger.Info("eventual deduction created",
		slog.Int64("period_id", in.PeriodID),
		slog.Int64("driver_id", in.DriverID),
		slog.Bool("critical", in.IsCritical))
	return instance, nil
}
