package eventual

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// Handler wires HTTP endpoints for eventual deductions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers eventual deduction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
}

type createRequest struct {
	PeriodID    int64           `json:"period_id" validate:"required"`
	DriverID    int64           `json:"driver_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description" validate:"required"`
	IsCritical  bool            `json:"is_critical"`
	Priority    *int            `json:"priority"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	instance, err := h.service.Create(r.Context(), CreateInput{
		PeriodID:    req.PeriodID,
		DriverID:    req.DriverID,
		Amount:      req.Amount,
		Description: req.Description,
		IsCritical:  req.IsCritical,
		Priority:    req.Priority,
	})
	if err != nil {
		h.logger.Error("create eventual deduction", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":       instance.ID,
		"priority": instance.Priority,
		"status":   instance.Status,
	})
}
