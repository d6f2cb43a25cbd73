package recurring

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// PeriodStore exposes the period lookups the scheduler needs.
type PeriodStore interface {
	Get(ctx context.Context, id int64) (periods.Period, error)
	EnsurePeriod(ctx context.Context, companyID, driverID int64, date time.Time) (periods.Period, error)
}

// Recomputer triggers ledger recomputation after instance mutations.
type Recomputer interface {
	Recompute(ctx context.Context, periodID, driverID int64) (ledger.Calculation, error)
}

// Service expands recurring templates into per-period deduction instances.
type Service struct {
	repo   Repository
	store  PeriodStore
	ledger Recomputer
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, store PeriodStore, recomputer Recomputer, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, ledger: recomputer, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateTemplate registers a recurring deduction template.
func (s *Service) CreateTemplate(ctx context.Context, in CreateTemplateInput) (Template, error) {
	if err := in.Validate(); err != nil {
		return Template{}, err
	}
	return s.repo.InsertTemplate(ctx, Template{
		CompanyID:   in.CompanyID,
		DriverID:    in.DriverID,
		Amount:      in.Amount,
		Frequency:   in.Frequency,
		MonthWeek:   in.MonthWeek,
		ExpenseType: strings.TrimSpace(in.ExpenseType),
	})
}

// ListTemplates returns a driver's templates.
func (s *Service) ListTemplates(ctx context.Context, driverID int64) ([]Template, error) {
	return s.repo.ListTemplatesByDriver(ctx, driverID)
}

// ListExclusions returns a template's exclusion set.
func (s *Service) ListExclusions(ctx context.Context, templateID int64) ([]Exclusion, error) {
	if _, err := s.repo.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	return s.repo.ListExclusions(ctx, templateID)
}

// Materialize creates the concrete deduction instance for (template, period)
// when the template's frequency rules say it applies. Excluded pairs and
// non-matching month weeks skip without error. Re-materializing an already
// materialized pair returns the existing instance.
func (s *Service) Materialize(ctx context.Context, templateID, periodID int64) (MaterializeResult, error) {
	template, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return MaterializeResult{}, err
	}
	period, err := s.store.Get(ctx, periodID)
	if err != nil {
		return MaterializeResult{}, err
	}

	excluded, err := s.repo.IsExcluded(ctx, templateID, periodID)
	if err != nil {
		return MaterializeResult{}, err
	}
	if excluded {
		return MaterializeResult{Skipped: true, SkipReason: "excluded"}, nil
	}
	if !template.AppliesTo(period) {
		return MaterializeResult{Skipped: true, SkipReason: "month week mismatch"}, nil
	}

	existing, err := s.repo.FindInstance(ctx, templateID, periodID)
	if err == nil {
		return MaterializeResult{InstanceID: existing.ID}, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return MaterializeResult{}, err
	}

	if err := period.MutableGuard(); err != nil {
		return MaterializeResult{}, err
	}

	instance, err := s.repo.InsertInstance(ctx, ledger.ExpenseInstance{
		PeriodID:    periodID,
		DriverID:    template.DriverID,
		TemplateID:  &template.ID,
		Amount:      template.Amount,
		Description: template.ExpenseType,
		Status:      ledger.InstancePlanned,
		Priority:    ledger.PriorityDefault,
	})
	if err != nil {
		return MaterializeResult{}, err
	}
	if _, err := s.ledger.Recompute(ctx, periodID, template.DriverID); err != nil {
		return MaterializeResult{}, err
	}
	return MaterializeResult{InstanceID: instance.ID}, nil
}

// Exclude suppresses a (template, period) pair, removing any materialized
// instance and recomputing the pair.
func (s *Service) Exclude(ctx context.Context, templateID, periodID int64, reason string) error {
	template, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, periodID); err != nil {
		return err
	}
	if err := s.repo.InsertExclusion(ctx, Exclusion{
		TemplateID: templateID,
		PeriodID:   periodID,
		Reason:     strings.TrimSpace(reason),
	}); err != nil {
		return err
	}

	existing, err := s.repo.FindInstance(ctx, templateID, periodID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.DeleteInstance(ctx, existing.ID); err != nil {
		return err
	}
	if _, err := s.ledger.Recompute(ctx, periodID, template.DriverID); err != nil {
		return err
	}
	s.logger.Info("recurring exclusion applied",
		slog.Int64("template_id", templateID),
		slog.Int64("period_id", periodID))
	return nil
}

// Restore removes an exclusion and re-materializes the instance. The target
// period must still accept content.
func (s *Service) Restore(ctx context.Context, templateID, periodID int64) (MaterializeResult, error) {
	if _, err := s.repo.GetTemplate(ctx, templateID); err != nil {
		return MaterializeResult{}, err
	}
	period, err := s.store.Get(ctx, periodID)
	if err != nil {
		return MaterializeResult{}, err
	}
	excluded, err := s.repo.IsExcluded(ctx, templateID, periodID)
	if err != nil {
		return MaterializeResult{}, err
	}
	if !excluded {
		return MaterializeResult{}, shared.ErrNotExcluded
	}
	if err := period.MutableGuard(); err != nil {
		// Restore reports one error regardless of whether the period is
		// locked or merely advanced past open.
		return MaterializeResult{}, shared.ErrPeriodNotOpen
	}
	if err := s.repo.DeleteExclusion(ctx, templateID, periodID); err != nil {
		return MaterializeResult{}, err
	}
	return s.Materialize(ctx, templateID, periodID)
}

// MaterializeDue expands every active template into its driver's current
// period. Invoked by the weekly scheduler job; one template's failure does
// not abort the sweep.
func (s *Service) MaterializeDue(ctx context.Context) (int, error) {
	templates, err := s.repo.ListActiveTemplates(ctx)
	if err != nil {
		return 0, err
	}
	materialized := 0
	for _, template := range templates {
		period, err := s.store.EnsurePeriod(ctx, template.CompanyID, template.DriverID, s.now())
		if err != nil {
			s.logger.Warn("recurring sweep: ensure period",
				slog.Int64("template_id", template.ID), slog.Any("error", err))
			continue
		}
		result, err := s.Materialize(ctx, template.ID, period.ID)
		if err != nil {
			s.logger.Warn("recurring sweep: materialize",
				slog.Int64("template_id", template.ID), slog.Any("error", err))
			continue
		}
		if !result.Skipped {
			materialized++
		}
	}
	return materialized, nil
}
