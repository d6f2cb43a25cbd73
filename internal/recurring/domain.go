package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/shared"
)

// Template is a recurring deduction schedule owned by a driver.
// MonthWeek restricts monthly templates to one ordinal week of the month;
// nil means no restriction.
type Template struct {
	ID          int64
	CompanyID   int64
	DriverID    int64
	Amount      decimal.Decimal
	Frequency   periods.Frequency
	MonthWeek   *int
	ExpenseType string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AppliesTo reports whether the template should materialize into p.
func (t Template) AppliesTo(p periods.Period) bool {
	if t.Frequency != periods.FrequencyMonthly || t.MonthWeek == nil {
		return true
	}
	return periods.WeekOfMonth(p.StartDate) == *t.MonthWeek
}

// Exclusion suppresses one (template, period) materialization.
type Exclusion struct {
	TemplateID int64
	PeriodID   int64
	Reason     string
	CreatedAt  time.Time
}

// MaterializeResult reports the outcome of a materialization attempt.
// Skipped results are documented control flow, not failures.
type MaterializeResult struct {
	InstanceID int64
	Skipped    bool
	SkipReason string
}

// CreateTemplateInput carries a new template.
type CreateTemplateInput struct {
	CompanyID   int64
	DriverID    int64
	Amount      decimal.Decimal
	Frequency   periods.Frequency
	MonthWeek   *int
	ExpenseType string
}

// Validate checks template fields.
func (in CreateTemplateInput) Validate() error {
	if in.CompanyID == 0 || in.DriverID == 0 {
		return fmt.Errorf("%w: company and driver are required", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if strings.TrimSpace(in.ExpenseType) == "" {
		return fmt.Errorf("%w: expense type is required", shared.ErrValidation)
	}
	if in.MonthWeek != nil {
		if in.Frequency != periods.FrequencyMonthly {
			return fmt.Errorf("%w: month week only applies to monthly templates", shared.ErrValidation)
		}
		if *in.MonthWeek < 1 || *in.MonthWeek > 5 {
			return fmt.Errorf("%w: month week must be between 1 and 5", shared.ErrValidation)
		}
	}
	return nil
}
