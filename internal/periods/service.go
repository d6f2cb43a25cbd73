package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetops/fleetops/internal/shared"
)

// CreationObserver counts periods created by the generator.
type CreationObserver interface {
	ObservePeriodCreated()
}

// Service owns period generation and lifecycle transitions.
type Service struct {
	repo     Repository
	auditor  shared.Auditor
	logger   *slog.Logger
	observer CreationObserver
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, auditor shared.Auditor, logger *slog.Logger) *Service {
	if auditor == nil {
		auditor = shared.NopAuditor{}
	}
	return &Service{repo: repo, auditor: auditor, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver attaches a metrics observer for period creation.
func (s *Service) WithObserver(o CreationObserver) {
	s.observer = o
}

// EnsurePeriod finds the company period enclosing date, creating it from the
// company schedule when none exists. Safe under concurrent first-touch: the
// store-level uniqueness constraint decides the winner and the loser fetches
// the existing row.
func (s *Service) EnsurePeriod(ctx context.Context, companyID, driverID int64, date time.Time) (Period, error) {
	if companyID == 0 || driverID == 0 {
		return Period{}, fmt.Errorf("%w: company and driver are required", shared.ErrValidation)
	}

	existing, err := s.repo.FindByDate(ctx, companyID, date)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Period{}, err
	}

	schedule, err := s.repo.GetSchedule(ctx, companyID)
	if err != nil {
		return Period{}, err
	}
	start, end := schedule.BoundsFor(date)

	created, err := s.repo.Insert(ctx, Period{
		CompanyID: companyID,
		StartDate: start,
		EndDate:   end,
		Frequency: schedule.Frequency,
		Status:    StatusOpen,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRange) {
			// A concurrent caller won the insert; return its period.
			return s.repo.FindByDate(ctx, companyID, date)
		}
		return Period{}, err
	}
	if s.observer != nil {
		s.observer.ObservePeriodCreated()
	}
	s.logger.Info("period created",
		slog.Int64("company_id", companyID),
		slog.Time("start", created.StartDate),
		slog.Time("end", created.EndDate))
	return created, nil
}

// Get returns a single period.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// ListByCompany returns paginated periods for a company.
func (s *Service) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Period, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByCompany(ctx, companyID, limit, offset)
}

// Transition advances a period through the forward-only lifecycle.
func (s *Service) Transition(ctx context.Context, periodID int64, target Status, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		period, err := s.repo.GetForUpdate(ctx, tx, periodID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(period.Status, target); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE payment_periods SET status=$2, updated_at=NOW() WHERE id=$1`, periodID, target); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "period.transition",
		Entity:   "payment_period",
		EntityID: strconv.FormatInt(periodID, 10),
		Meta:     map[string]any{"status": string(target)},
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit period transition", slog.Any("error", err))
	}
	return nil
}

// Lock sets the irreversible locked flag. Only closed or paid periods lock.
func (s *Service) Lock(ctx context.Context, periodID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		period, err := s.repo.GetForUpdate(ctx, tx, periodID)
		if err != nil {
			return err
		}
		if period.Locked {
			return nil
		}
		if period.Status != StatusClosed && period.Status != StatusPaid {
			return ErrNotLockable
		}
		_, err = tx.Exec(ctx, `UPDATE payment_periods SET locked=true, updated_at=NOW() WHERE id=$1`, periodID)
		return err
	})
	if err != nil {
		return err
	}
	if err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "period.lock",
		Entity:   "payment_period",
		EntityID: strconv.FormatInt(periodID, 10),
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit period lock", slog.Any("error", err))
	}
	return nil
}

// GuardMutable loads a period and rejects mutation when it is locked or not open.
func (s *Service) GuardMutable(ctx context.Context, periodID int64) (Period, error) {
	period, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if err := period.MutableGuard(); err != nil {
		return Period{}, err
	}
	return period, nil
}
