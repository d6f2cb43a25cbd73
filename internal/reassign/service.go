// Package reassign moves financial elements between pay periods. It is the
// only code path allowed to mutate an element's period reference.
package reassign

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// PeriodStore exposes period lookups for destination checks.
type PeriodStore interface {
	Get(ctx context.Context, id int64) (periods.Period, error)
}

// Recomputer recomputes a (period, driver) pair inside the caller's
// transaction.
type Recomputer interface {
	RecomputeInTx(ctx context.Context, tx ledger.TxRepository, periodID, driverID int64) (ledger.Calculation, error)
}

// Service enforces destination eligibility and keeps both sides' totals
// consistent after a move.
type Service struct {
	repo    ledger.Repository
	store   PeriodStore
	ledger  Recomputer
	auditor shared.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo ledger.Repository, store PeriodStore, recomputer Recomputer, auditor shared.Auditor, logger *slog.Logger) *Service {
	if auditor == nil {
		auditor = shared.NopAuditor{}
	}
	return &Service{repo: repo, store: store, ledger: recomputer, auditor: auditor, logger: logger, now: time.Now}
}

// Reassign moves an element to newPeriodID and recomputes both the source
// and destination (period, driver) pairs in the same transaction as the
// move, so a failed recompute rolls the move back and totals never go
// stale. The source recompute always runs: its totals changed even though
// the element left it.
func (s *Service) Reassign(ctx context.Context, kind ledger.ElementKind, elementID, newPeriodID int64, actorID int64) error {
	element, err := s.repo.ResolveElement(ctx, kind, elementID)
	if err != nil {
		return err
	}
	if element.PeriodID == newPeriodID {
		return shared.ErrInvalidDestination
	}
	destination, err := s.store.Get(ctx, newPeriodID)
	if err != nil {
		return err
	}
	if destination.Status != periods.StatusOpen || destination.Locked {
		return shared.ErrInvalidDestination
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		// Re-resolve under the transaction so a concurrent move loses cleanly.
		current, err := tx.ResolveElement(ctx, kind, elementID)
		if err != nil {
			return err
		}
		if current.PeriodID == newPeriodID {
			return shared.ErrInvalidDestination
		}
		if err := tx.UpdateElementPeriod(ctx, kind, elementID, newPeriodID); err != nil {
			return err
		}
		// The two recomputes have no required ordering; each is internally
		// consistent under its own calculation-row lock.
		if _, err := s.ledger.RecomputeInTx(ctx, tx, current.PeriodID, current.DriverID); err != nil {
			return err
		}
		_, err = s.ledger.RecomputeInTx(ctx, tx, newPeriodID, current.DriverID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "element.reassign",
		Entity:   string(kind),
		EntityID: strconv.FormatInt(elementID, 10),
		Meta: map[string]any{
			"from_period_id": element.PeriodID,
			"to_period_id":   newPeriodID,
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit reassign", slog.Any("error", err))
	}
	return nil
}
