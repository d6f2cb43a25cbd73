package recurring

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

type memStore struct {
	templates  map[int64]Template
	exclusions map[[2]int64]Exclusion
	instances  map[int64]ledger.ExpenseInstance
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{
		templates:  map[int64]Template{},
		exclusions: map[[2]int64]Exclusion{},
		instances:  map[int64]ledger.ExpenseInstance{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) GetTemplate(ctx context.Context, id int64) (Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return Template{}, shared.ErrNotFound
	}
	return t, nil
}

func (s *memStore) InsertTemplate(ctx context.Context, t Template) (Template, error) {
	t.ID = s.id()
	t.Active = true
	s.templates[t.ID] = t
	return t, nil
}

func (s *memStore) ListTemplatesByDriver(ctx context.Context, driverID int64) ([]Template, error) {
	var out []Template
	for _, t := range s.templates {
		if t.DriverID == driverID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) ListActiveTemplates(ctx context.Context) ([]Template, error) {
	var out []Template
	for _, t := range s.templates {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) IsExcluded(ctx context.Context, templateID, periodID int64) (bool, error) {
	_, ok := s.exclusions[[2]int64{templateID, periodID}]
	return ok, nil
}

func (s *memStore) InsertExclusion(ctx context.Context, e Exclusion) error {
	key := [2]int64{e.TemplateID, e.PeriodID}
	if _, ok := s.exclusions[key]; ok {
		return shared.ErrAlreadyExcluded
	}
	s.exclusions[key] = e
	return nil
}

func (s *memStore) DeleteExclusion(ctx context.Context, templateID, periodID int64) error {
	key := [2]int64{templateID, periodID}
	if _, ok := s.exclusions[key]; !ok {
		return shared.ErrNotExcluded
	}
	delete(s.exclusions, key)
	return nil
}

func (s *memStore) ListExclusions(ctx context.Context, templateID int64) ([]Exclusion, error) {
	var out []Exclusion
	for _, e := range s.exclusions {
		if e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) FindInstance(ctx context.Context, templateID, periodID int64) (ledger.ExpenseInstance, error) {
	for _, in := range s.instances {
		if in.TemplateID != nil && *in.TemplateID == templateID && in.PeriodID == periodID {
			return in, nil
		}
	}
	return ledger.ExpenseInstance{}, shared.ErrNotFound
}

func (s *memStore) InsertInstance(ctx context.Context, in ledger.ExpenseInstance) (ledger.ExpenseInstance, error) {
	in.ID = s.id()
	s.instances[in.ID] = in
	return in, nil
}

func (s *memStore) DeleteInstance(ctx context.Context, id int64) error {
	if _, ok := s.instances[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

type stubPeriods struct {
	periods map[int64]periods.Period
}

func (s stubPeriods) Get(ctx context.Context, id int64) (periods.Period, error) {
	p, ok := s.periods[id]
	if !ok {
		return periods.Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (s stubPeriods) EnsurePeriod(ctx context.Context, companyID, driverID int64, at time.Time) (periods.Period, error) {
	for _, p := range s.periods {
		if p.CompanyID == companyID && p.Contains(at) {
			return p, nil
		}
	}
	return periods.Period{}, shared.ErrNoSchedule
}

type countingRecomputer struct {
	calls [][2]int64
}

func (r *countingRecomputer) Recompute(ctx context.Context, periodID, driverID int64) (ledger.Calculation, error) {
	r.calls = append(r.calls, [2]int64{periodID, driverID})
	return ledger.Calculation{PeriodID: periodID, DriverID: driverID}, nil
}

func openPeriod(id int64, start, end time.Time) periods.Period {
	return periods.Period{ID: id, CompanyID: 1, StartDate: start, EndDate: end, Status: periods.StatusOpen}
}

func newRecurringService(repo Repository, store PeriodStore, rec Recomputer) *Service {
	return NewService(repo, store, rec, slog.Default())
}

func TestCreateTemplateValidation(t *testing.T) {
	svc := newRecurringService(newMemStore(), stubPeriods{}, &countingRecomputer{})

	_, err := svc.CreateTemplate(context.Background(), CreateTemplateInput{
		CompanyID: 1, DriverID: 2, Amount: dec("50"), Frequency: periods.FrequencyWeekly,
		MonthWeek: intPtr(2), ExpenseType: "insurance",
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateTemplate(context.Background(), CreateTemplateInput{
		CompanyID: 1, DriverID: 2, Amount: dec("50"), Frequency: periods.FrequencyMonthly,
		MonthWeek: intPtr(6), ExpenseType: "insurance",
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	tpl, err := svc.CreateTemplate(context.Background(), CreateTemplateInput{
		CompanyID: 1, DriverID: 2, Amount: dec("50"), Frequency: periods.FrequencyMonthly,
		MonthWeek: intPtr(2), ExpenseType: "insurance",
	})
	require.NoError(t, err)
	require.True(t, tpl.Active)
}

func TestMaterializeCreatesInstanceAndRecomputes(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "trailer lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	rec := &countingRecomputer{}
	svc := newRecurringService(repo, store, rec)

	result, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	require.False(t, result.Skipped)

	instance := repo.instances[result.InstanceID]
	require.Equal(t, tpl.ID, *instance.TemplateID)
	require.Equal(t, ledger.InstancePlanned, instance.Status)
	require.Equal(t, ledger.PriorityDefault, instance.Priority)
	require.Len(t, rec.calls, 1)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "trailer lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	rec := &countingRecomputer{}
	svc := newRecurringService(repo, store, rec)

	first, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	second, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)

	require.Equal(t, first.InstanceID, second.InstanceID)
	require.Len(t, repo.instances, 1)
	require.Len(t, rec.calls, 1)
}

func TestMaterializeSkipsMonthWeekMismatch(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{
		CompanyID: 1, DriverID: 2, Amount: dec("75"),
		Frequency: periods.FrequencyMonthly, MonthWeek: intPtr(2), ExpenseType: "insurance",
	})
	// Starts on the 1st: week 1, not week 2.
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 1), date(2024, time.March, 31)),
	}}
	rec := &countingRecomputer{}
	svc := newRecurringService(repo, store, rec)

	result, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, "month week mismatch", result.SkipReason)
	require.Empty(t, repo.instances)
	require.Empty(t, rec.calls)
}

func TestMaterializeSkipsExcluded(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	require.NoError(t, svc.Exclude(context.Background(), tpl.ID, 10, "driver on leave"))

	result, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, "excluded", result.SkipReason)
}

func TestMaterializeRejectsClosedPeriod(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	closed := openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10))
	closed.Status = periods.StatusClosed
	store := stubPeriods{periods: map[int64]periods.Period{10: closed}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	_, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
}

func TestExcludeRemovesMaterializedInstance(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	rec := &countingRecomputer{}
	svc := newRecurringService(repo, store, rec)

	result, err := svc.Materialize(context.Background(), tpl.ID, 10)
	require.NoError(t, err)

	require.NoError(t, svc.Exclude(context.Background(), tpl.ID, 10, "billed separately"))
	require.NotContains(t, repo.instances, result.InstanceID)
	// One recompute for materialize, one after removing the instance.
	require.Len(t, rec.calls, 2)
}

func TestExcludeTwiceReportsAlreadyExcluded(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	require.NoError(t, svc.Exclude(context.Background(), tpl.ID, 10, ""))
	err := svc.Exclude(context.Background(), tpl.ID, 10, "")
	require.ErrorIs(t, err, shared.ErrAlreadyExcluded)
}

func TestRestoreRoundTrip(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	require.NoError(t, svc.Exclude(context.Background(), tpl.ID, 10, ""))
	result, err := svc.Restore(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.NotZero(t, result.InstanceID)
	require.Empty(t, repo.exclusions)
}

func TestRestoreWithoutExclusion(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	_, err := svc.Restore(context.Background(), tpl.ID, 10)
	require.ErrorIs(t, err, shared.ErrNotExcluded)
}

func TestRestoreRejectsLockedPeriod(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	locked := openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10))
	locked.Locked = true
	store := stubPeriods{periods: map[int64]periods.Period{10: locked}}
	svc := newRecurringService(repo, store, &countingRecomputer{})

	require.NoError(t, repo.InsertExclusion(context.Background(), Exclusion{TemplateID: tpl.ID, PeriodID: 10}))

	_, err := svc.Restore(context.Background(), tpl.ID, 10)
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
	// The exclusion survives the rejected restore.
	excluded, _ := repo.IsExcluded(context.Background(), tpl.ID, 10)
	require.True(t, excluded)
}

func TestMaterializeDueSweepsActiveTemplates(t *testing.T) {
	repo := newMemStore()
	tpl, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 2, Amount: dec("75"), Frequency: periods.FrequencyWeekly, ExpenseType: "lease"})
	inactive, _ := repo.InsertTemplate(context.Background(), Template{CompanyID: 1, DriverID: 3, Amount: dec("40"), Frequency: periods.FrequencyWeekly, ExpenseType: "phone"})
	off := repo.templates[inactive.ID]
	off.Active = false
	repo.templates[inactive.ID] = off

	store := stubPeriods{periods: map[int64]periods.Period{
		10: openPeriod(10, date(2024, time.March, 4), date(2024, time.March, 10)),
	}}
	rec := &countingRecomputer{}
	svc := newRecurringService(repo, store, rec)
	svc.WithNow(func() time.Time { return date(2024, time.March, 6) })

	materialized, err := svc.MaterializeDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, materialized)

	instance, err := repo.FindInstance(context.Background(), tpl.ID, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), instance.DriverID)
}
