package fuelsync

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

type memRepo struct {
	assignments map[string]CardAssignment
	expenses    []ledger.FuelExpense
}

func (r *memRepo) FindActiveAssignment(ctx context.Context, cardLastFour string) (CardAssignment, error) {
	a, ok := r.assignments[cardLastFour]
	if !ok {
		return CardAssignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memRepo) CandidateExpenses(ctx context.Context, driverID int64, occurredAt time.Time) ([]ledger.FuelExpense, error) {
	var out []ledger.FuelExpense
	lo, hi := occurredAt.AddDate(0, 0, -1), occurredAt.AddDate(0, 0, 1)
	for _, f := range r.expenses {
		if f.DriverID == driverID && !f.PurchasedAt.Before(lo) && !f.PurchasedAt.After(hi) {
			out = append(out, f)
		}
	}
	return out, nil
}

type stubGenerator struct {
	period periods.Period
}

func (g stubGenerator) EnsurePeriod(ctx context.Context, companyID, driverID int64, date time.Time) (periods.Period, error) {
	return g.period, nil
}

// memInserter is safe for the concurrent appends IngestBatch performs.
type memInserter struct {
	mu       sync.Mutex
	inserted []ledger.FuelExpense
}

func (i *memInserter) InsertFuelExpense(ctx context.Context, f ledger.FuelExpense) (ledger.FuelExpense, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	f.ID = int64(len(i.inserted) + 100)
	i.inserted = append(i.inserted, f)
	return f, nil
}

type countingRecomputer struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRecomputer) Recompute(ctx context.Context, periodID, driverID int64) (ledger.Calculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return ledger.Calculation{}, nil
}

func newIngestService(repo *memRepo, inserter *memInserter, rec *countingRecomputer) *Service {
	cards := NewCardDirectory(repo, nil, time.Minute, slog.Default())
	generator := stubGenerator{period: periods.Period{ID: 1, CompanyID: 1, Status: periods.StatusOpen}}
	return NewService(repo, cards, generator, inserter, rec, DefaultMatchConfig(), slog.Default(), nil)
}

func sampleTxn() RawTransaction {
	return RawTransaction{
		ExternalID:   uuid.New(),
		CardLastFour: "4821",
		OccurredAt:   time.Date(2024, time.March, 6, 14, 30, 0, 0, time.UTC),
		Amount:       dec("152.40"),
	}
}

func TestIngestInsertsNewExpense(t *testing.T) {
	repo := &memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}
	inserter := &memInserter{}
	rec := &countingRecomputer{}
	svc := newIngestService(repo, inserter, rec)

	result, err := svc.Ingest(context.Background(), sampleTxn())
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, result.Outcome)
	require.NotZero(t, result.FuelExpenseID)
	require.Len(t, inserter.inserted, 1)
	require.Equal(t, int64(1), inserter.inserted[0].PeriodID)
	require.Equal(t, int64(2), inserter.inserted[0].DriverID)
	require.Equal(t, 1, rec.calls)
}

func TestIngestUnmatchedCard(t *testing.T) {
	repo := &memRepo{assignments: map[string]CardAssignment{}}
	inserter := &memInserter{}
	svc := newIngestService(repo, inserter, &countingRecomputer{})

	result, err := svc.Ingest(context.Background(), sampleTxn())
	require.NoError(t, err)
	require.Equal(t, OutcomeUnmatched, result.Outcome)
	require.Empty(t, inserter.inserted)
}

func TestIngestDetectsDuplicate(t *testing.T) {
	txn := sampleTxn()
	repo := &memRepo{
		assignments: map[string]CardAssignment{
			"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
		},
		expenses: []ledger.FuelExpense{{
			ID:           55,
			DriverID:     2,
			Amount:       txn.Amount,
			PurchasedAt:  txn.OccurredAt.Add(time.Hour),
			CardLastFour: "4821",
		}},
	}
	inserter := &memInserter{}
	rec := &countingRecomputer{}
	svc := newIngestService(repo, inserter, rec)

	result, err := svc.Ingest(context.Background(), txn)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, result.Outcome)
	require.Equal(t, int64(55), result.FuelExpenseID)
	require.Empty(t, inserter.inserted)
	require.Zero(t, rec.calls)
}

func TestIngestNearMissInserts(t *testing.T) {
	txn := sampleTxn()
	repo := &memRepo{
		assignments: map[string]CardAssignment{
			"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
		},
		// Same day and card but the amount is well off: two signals only.
		expenses: []ledger.FuelExpense{{
			ID:           55,
			DriverID:     2,
			Amount:       dec("80.00"),
			PurchasedAt:  txn.OccurredAt.Add(time.Hour),
			CardLastFour: "4821",
		}},
	}
	inserter := &memInserter{}
	svc := newIngestService(repo, inserter, &countingRecomputer{})

	result, err := svc.Ingest(context.Background(), txn)
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, result.Outcome)
	require.Len(t, inserter.inserted, 1)
}

func TestIngestRejectsImmutablePeriod(t *testing.T) {
	repo := &memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}
	cards := NewCardDirectory(repo, nil, time.Minute, slog.Default())

	// A late delivery can resolve to a period that already closed and locked.
	inserter := &memInserter{}
	rec := &countingRecomputer{}
	locked := stubGenerator{period: periods.Period{ID: 9, CompanyID: 1, Status: periods.StatusClosed, Locked: true}}
	svc := NewService(repo, cards, locked, inserter, rec, DefaultMatchConfig(), slog.Default(), nil)

	_, err := svc.Ingest(context.Background(), sampleTxn())
	require.ErrorIs(t, err, shared.ErrPeriodLocked)
	require.Empty(t, inserter.inserted)
	require.Zero(t, rec.calls)

	// Closed but not yet locked is still off limits.
	closed := stubGenerator{period: periods.Period{ID: 9, CompanyID: 1, Status: periods.StatusClosed}}
	svc = NewService(repo, cards, closed, inserter, rec, DefaultMatchConfig(), slog.Default(), nil)

	_, err = svc.Ingest(context.Background(), sampleTxn())
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
	require.Empty(t, inserter.inserted)
	require.Zero(t, rec.calls)
}

func TestIngestValidation(t *testing.T) {
	svc := newIngestService(&memRepo{}, &memInserter{}, &countingRecomputer{})

	txn := sampleTxn()
	txn.Amount = dec("0")
	_, err := svc.Ingest(context.Background(), txn)
	require.ErrorIs(t, err, shared.ErrValidation)

	txn = sampleTxn()
	txn.OccurredAt = time.Time{}
	_, err = svc.Ingest(context.Background(), txn)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIngestBatchReportsEveryOutcome(t *testing.T) {
	repo := &memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}
	inserter := &memInserter{}
	svc := newIngestService(repo, inserter, &countingRecomputer{})

	known := sampleTxn()
	unknown := sampleTxn()
	unknown.CardLastFour = "0000"
	invalid := sampleTxn()
	invalid.Amount = dec("-1")

	items := svc.IngestBatch(context.Background(), []RawTransaction{known, unknown, invalid})
	require.Len(t, items, 3)
	require.NoError(t, items[0].Err)
	require.Equal(t, OutcomeInserted, items[0].Result.Outcome)
	require.NoError(t, items[1].Err)
	require.Equal(t, OutcomeUnmatched, items[1].Result.Outcome)
	require.ErrorIs(t, items[2].Err, shared.ErrValidation)
}
