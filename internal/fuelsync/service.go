package fuelsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/observability"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// Generator resolves the owning period for a transaction date.
type Generator interface {
	EnsurePeriod(ctx context.Context, companyID, driverID int64, date time.Time) (periods.Period, error)
}

// Recomputer triggers ledger recomputation after an insert.
type Recomputer interface {
	Recompute(ctx context.Context, periodID, driverID int64) (ledger.Calculation, error)
}

// Inserter persists matched fuel expenses.
type Inserter interface {
	InsertFuelExpense(ctx context.Context, f ledger.FuelExpense) (ledger.FuelExpense, error)
}

// Service ingests external fuel-card transactions.
type Service struct {
	repo      Repository
	cards     *CardDirectory
	generator Generator
	inserter  Inserter
	ledger    Recomputer
	config    MatchConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService constructs a Service instance.
func NewService(repo Repository, cards *CardDirectory, generator Generator, inserter Inserter, recomputer Recomputer, config MatchConfig, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if config.Threshold == 0 {
		config = DefaultMatchConfig()
	}
	return &Service{
		repo:      repo,
		cards:     cards,
		generator: generator,
		inserter:  inserter,
		ledger:    recomputer,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest classifies and, when new, records one raw transaction:
// unmatched when no active card assignment resolves, duplicate when an
// existing expense agrees on enough signals, inserted otherwise.
func (s *Service) Ingest(ctx context.Context, txn RawTransaction) (Result, error) {
	if !txn.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if txn.OccurredAt.IsZero() {
		return Result{}, fmt.Errorf("%w: transaction date is required", shared.ErrValidation)
	}

	assignment, err := s.cards.Resolve(ctx, txn.CardLastFour)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.metrics.ObserveIngest(string(OutcomeUnmatched))
			return Result{Outcome: OutcomeUnmatched}, nil
		}
		return Result{}, err
	}

	candidates, err := s.repo.CandidateExpenses(ctx, assignment.DriverID, txn.OccurredAt)
	if err != nil {
		return Result{}, err
	}
	for _, candidate := range candidates {
		if s.config.IsDuplicate(txn, candidate) {
			s.metrics.ObserveIngest(string(OutcomeDuplicate))
			s.logger.Info("duplicate fuel transaction",
				slog.String("external_id", txn.ExternalID.String()),
				slog.Int64("matched_expense_id", candidate.ID))
			return Result{Outcome: OutcomeDuplicate, FuelExpenseID: candidate.ID}, nil
		}
	}

	period, err := s.generator.EnsurePeriod(ctx, assignment.CompanyID, assignment.DriverID, txn.OccurredAt)
	if err != nil {
		return Result{}, err
	}
	// Late deliveries can resolve to a period that already closed or locked;
	// those accept no new elements.
	if err := period.MutableGuard(); err != nil {
		return Result{}, err
	}
	expense, err := s.inserter.InsertFuelExpense(ctx, ledger.FuelExpense{
		PeriodID:      period.ID,
		DriverID:      assignment.DriverID,
		Amount:        txn.Amount,
		PurchasedAt:   txn.OccurredAt,
		CardLastFour:  txn.CardLastFour,
		InvoiceNumber: txn.InvoiceNumber,
		StationName:   txn.StationName,
	})
	if err != nil {
		return Result{}, err
	}
	if _, err := s.ledger.Recompute(ctx, period.ID, assignment.DriverID); err != nil {
		return Result{}, err
	}
	s.metrics.ObserveIngest(string(OutcomeInserted))
	return Result{Outcome: OutcomeInserted, FuelExpenseID: expense.ID}, nil
}

// BatchItem reports one transaction's outcome within a batch.
type BatchItem struct {
	ExternalID string
	Result     Result
	Err        error
}

// IngestBatch processes transactions independently with bounded concurrency.
// One transaction's failure never aborts the batch; every outcome is
// reported individually.
func (s *Service) IngestBatch(ctx context.Context, txns []RawTransaction) []BatchItem {
	items := make([]BatchItem, len(txns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, txn := range txns {
		i, txn := i, txn
		g.Go(func() error {
			result, err := s.Ingest(ctx, txn)
			items[i] = BatchItem{ExternalID: txn.ExternalID.String(), Result: result, Err: err}
			if err != nil {
				s.logger.Warn("batch ingest",
					slog.String("external_id", txn.ExternalID.String()),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
