package shared

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPeriodLocked indicates a mutation against a locked period.
	ErrPeriodLocked = errors.New("period locked")
	// ErrPeriodNotOpen indicates a mutation against a period that is not open.
	ErrPeriodNotOpen = errors.New("period not open")
	// ErrInvalidDestination indicates a reassignment destination failed its preconditions.
	ErrInvalidDestination = errors.New("invalid destination period")
	// ErrAlreadyExcluded indicates the (template, period) pair is already excluded.
	ErrAlreadyExcluded = errors.New("already excluded")
	// ErrNotExcluded indicates no exclusion exists for the (template, period) pair.
	ErrNotExcluded = errors.New("not excluded")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrNoSchedule indicates the company has no pay schedule configured.
	ErrNoSchedule = errors.New("no pay schedule configured")
)

// HTTPStatus maps engine errors to response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPeriodLocked),
		errors.Is(err, ErrPeriodNotOpen),
		errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrAlreadyExcluded),
		errors.Is(err, ErrNotExcluded):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoSchedule):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// UserSafeMessage returns a message safe to surface to API clients.
// Store and infrastructure errors collapse to a generic message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrPeriodLocked):
		return "period is locked"
	case errors.Is(err, ErrPeriodNotOpen):
		return "period is not open"
	case errors.Is(err, ErrInvalidDestination):
		return "destination period is not eligible"
	case errors.Is(err, ErrAlreadyExcluded):
		return "template is already excluded for this period"
	case errors.Is(err, ErrNotExcluded):
		return "template is not excluded for this period"
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrNoSchedule):
		return "company has no pay schedule configured"
	default:
		return "internal error"
	}
}
