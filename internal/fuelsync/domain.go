package fuelsync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/ledger"
)

// RawTransaction is a fuel-card transaction as delivered by the card network.
// InvoiceNumber and StationName are optional in partial syncs.
type RawTransaction struct {
	ExternalID    uuid.UUID
	CardLastFour  string
	OccurredAt    time.Time
	Amount        decimal.Decimal
	InvoiceNumber *string
	StationName   *string
}

// Outcome classifies an ingestion attempt.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
)

// Result reports one transaction's ingestion.
type Result struct {
	Outcome       Outcome
	FuelExpenseID int64
}

// CardAssignment binds a card's last four digits to a driver.
type CardAssignment struct {
	CardLastFour string `json:"card_last_four"`
	DriverID     int64  `json:"driver_id"`
	CompanyID    int64  `json:"company_id"`
	Active       bool   `json:"active"`
}

// MatchConfig tunes duplicate detection. The threshold counts agreeing
// signals out of five: calendar date, invoice number, card last-four,
// amount within epsilon, station name. A single-field match is too brittle
// against partial or retried syncs; requiring several signals tolerates
// missing optional fields while catching near-identical re-deliveries.
type MatchConfig struct {
	Threshold     int
	AmountEpsilon decimal.Decimal
	Location      *time.Location
}

// DefaultMatchConfig returns the stock 3-of-5 policy.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Threshold:     3,
		AmountEpsilon: decimal.NewFromFloat(0.01),
		Location:      time.UTC,
	}
}

// Score counts the matching signals between an incoming transaction and an
// existing fuel expense. Optional fields only count when present on both
// sides.
func (c MatchConfig) Score(txn RawTransaction, expense ledger.FuelExpense) int {
	score := 0
	if sameCalendarDate(txn.OccurredAt, expense.PurchasedAt, c.Location) {
		score++
	}
	if bothPresent(txn.InvoiceNumber, expense.InvoiceNumber) && *txn.InvoiceNumber == *expense.InvoiceNumber {
		score++
	}
	if txn.CardLastFour != "" && txn.CardLastFour == expense.CardLastFour {
		score++
	}
	if txn.Amount.Sub(expense.Amount).Abs().LessThanOrEqual(c.AmountEpsilon) {
		score++
	}
	if bothPresent(txn.StationName, expense.StationName) && *txn.StationName == *expense.StationName {
		score++
	}
	return score
}

// IsDuplicate applies the threshold to a candidate pair.
func (c MatchConfig) IsDuplicate(txn RawTransaction, expense ledger.FuelExpense) bool {
	return c.Score(txn, expense) >= c.Threshold
}

func sameCalendarDate(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func bothPresent(a, b *string) bool {
	return a != nil && *a != "" && b != nil && *b != ""
}
