package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetops/fleetops/internal/shared"
)

// Frequency enumerates supported pay period cadences.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ParseFrequency validates a cadence string.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", shared.ErrValidation, s)
}

// Status enumerates period lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusProcessing Status = "processing"
	StatusClosed     Status = "closed"
	StatusPaid       Status = "paid"
)

// ErrInvalidTransition indicates a disallowed status change.
var ErrInvalidTransition = errors.New("periods: transition invalid")

// ErrNotLockable indicates a lock attempt before the period is closed or paid.
var ErrNotLockable = errors.New("periods: period must be closed or paid before locking")

// ValidateTransition checks the forward-only lifecycle
// open -> processing -> closed -> paid.
func ValidateTransition(current, target Status) error {
	switch current {
	case StatusOpen:
		if target == StatusProcessing {
			return nil
		}
	case StatusProcessing:
		if target == StatusClosed {
			return nil
		}
	case StatusClosed:
		if target == StatusPaid {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Period is a bounded date range over which a driver's pay is aggregated.
type Period struct {
	ID        int64
	CompanyID int64
	StartDate time.Time
	EndDate   time.Time
	Frequency Frequency
	Status    Status
	Locked    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls inside [StartDate, EndDate].
func (p Period) Contains(date time.Time) bool {
	d := midnight(date)
	return !d.Before(midnight(p.StartDate)) && !d.After(midnight(p.EndDate))
}

// MutableGuard gates every mutation that changes a period's contents,
// including reassignment and restore destinations.
func (p Period) MutableGuard() error {
	if p.Locked {
		return shared.ErrPeriodLocked
	}
	if p.Status != StatusOpen {
		return shared.ErrPeriodNotOpen
	}
	return nil
}

// PaySchedule is a company's period configuration.
type PaySchedule struct {
	CompanyID  int64
	Frequency  Frequency
	AnchorDate time.Time
}

// BoundsFor computes the deterministic window enclosing target.
// Weekly and biweekly windows are counted from the schedule anchor;
// monthly windows are calendar months.
func (s PaySchedule) BoundsFor(target time.Time) (start, end time.Time) {
	t := midnight(target)
	switch s.Frequency {
	case FrequencyMonthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
		return start, end
	case FrequencyBiweekly:
		return windowFrom(midnight(s.AnchorDate), t, 14)
	default:
		return windowFrom(midnight(s.AnchorDate), t, 7)
	}
}

func windowFrom(anchor, target time.Time, days int) (time.Time, time.Time) {
	elapsed := int(target.Sub(anchor).Hours() / 24)
	k := elapsed / days
	if elapsed < 0 && elapsed%days != 0 {
		k--
	}
	start := anchor.AddDate(0, 0, k*days)
	return start, start.AddDate(0, 0, days-1)
}

// WeekOfMonth returns the 1-based ordinal week of the month for date,
// counted in 7-day blocks from the 1st.
func WeekOfMonth(date time.Time) int {
	return ((date.Day() - 1) / 7) + 1
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
