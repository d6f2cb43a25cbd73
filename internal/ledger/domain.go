package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/shared"
)

// ElementKind is the closed set of financial element types that contribute
// to a driver's period calculation.
type ElementKind string

const (
	KindLoad            ElementKind = "load"
	KindFuelExpense     ElementKind = "fuel_expense"
	KindExpenseInstance ElementKind = "expense_instance"
	KindOtherIncome     ElementKind = "other_income"
)

// ParseElementKind validates an element type string.
func ParseElementKind(s string) (ElementKind, error) {
	switch ElementKind(s) {
	case KindLoad, KindFuelExpense, KindExpenseInstance, KindOtherIncome:
		return ElementKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown element type %q", shared.ErrValidation, s)
}

// Element is the uniform view of a financial element consumed by
// recompute and reassignment.
type Element struct {
	Kind     ElementKind
	ID       int64
	PeriodID int64
	DriverID int64
	Amount   decimal.Decimal
}

// InstanceStatus enumerates deduction instance states.
type InstanceStatus string

const (
	InstancePlanned  InstanceStatus = "planned"
	InstanceApplied  InstanceStatus = "applied"
	InstanceDeferred InstanceStatus = "deferred"
)

// Instance priority bounds. Lower is more urgent; critical instances are
// forced to PriorityCritical.
const (
	PriorityCritical = 1
	PriorityDefault  = 5
	PriorityMax      = 10
)

// ExpenseInstance is a concrete deduction scoped to one (period, driver).
// TemplateID is nil for eventual (ad-hoc) deductions.
type ExpenseInstance struct {
	ID          int64
	PeriodID    int64
	DriverID    int64
	TemplateID  *int64
	Amount      decimal.Decimal
	Description string
	Status      InstanceStatus
	Priority    int
	IsCritical  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Calculation is the computed financial summary for one driver within one
// period. It is recomputed from elements, never hand-edited.
type Calculation struct {
	ID                 int64
	PeriodID           int64
	DriverID           int64
	GrossEarnings      decimal.Decimal
	OtherIncome        decimal.Decimal
	FuelExpenses       decimal.Decimal
	TotalDeductions    decimal.Decimal
	NetPayment         decimal.Decimal
	HasNegativeBalance bool
	UpdatedAt          time.Time
}

// Inputs carries the element sums and deduction instances a recompute
// reads inside its transaction.
type Inputs struct {
	GrossEarnings decimal.Decimal
	OtherIncome   decimal.Decimal
	FuelExpenses  decimal.Decimal
	Instances     []ExpenseInstance
}

// Compute derives totals from inputs. Critical deductions apply
// unconditionally; non-critical ones apply in (priority, id) order while the
// running net stays non-negative, otherwise they defer. The returned
// instances carry their allocated statuses.
//
// net_payment = gross_earnings + other_income - fuel_expenses - total_deductions
func Compute(in Inputs) (Calculation, []ExpenseInstance) {
	instances := make([]ExpenseInstance, len(in.Instances))
	copy(instances, in.Instances)
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].Priority != instances[j].Priority {
			return instances[i].Priority < instances[j].Priority
		}
		return instances[i].ID < instances[j].ID
	})

	base := in.GrossEarnings.Add(in.OtherIncome).Sub(in.FuelExpenses)
	total := decimal.Zero
	for i := range instances {
		if instances[i].IsCritical {
			total = total.Add(instances[i].Amount)
			instances[i].Status = InstanceApplied
		}
	}
	for i := range instances {
		if instances[i].IsCritical {
			continue
		}
		if base.Sub(total).Sub(instances[i].Amount).IsNegative() {
			instances[i].Status = InstanceDeferred
			continue
		}
		total = total.Add(instances[i].Amount)
		instances[i].Status = InstanceApplied
	}

	net := base.Sub(total)
	return Calculation{
		GrossEarnings:      in.GrossEarnings,
		OtherIncome:        in.OtherIncome,
		FuelExpenses:       in.FuelExpenses,
		TotalDeductions:    total,
		NetPayment:         net,
		HasNegativeBalance: net.IsNegative(),
	}, instances
}

// Load is hauling revenue credited to a driver's gross earnings.
type Load struct {
	ID        int64
	PeriodID  int64
	DriverID  int64
	Amount    decimal.Decimal
	Reference string
	CreatedAt time.Time
}

// FuelExpense is a fuel purchase debited from a driver's pay.
type FuelExpense struct {
	ID            int64
	PeriodID      int64
	DriverID      int64
	Amount        decimal.Decimal
	PurchasedAt   time.Time
	CardLastFour  string
	InvoiceNumber *string
	StationName   *string
	CreatedAt     time.Time
}

// OtherIncome is non-load income credited to a driver's pay.
type OtherIncome struct {
	ID          int64
	PeriodID    int64
	DriverID    int64
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}
