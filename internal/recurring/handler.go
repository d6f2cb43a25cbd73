package recurring

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// Handler wires HTTP endpoints for recurring deduction templates.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers recurring template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createTemplate)
	r.Get("/", h.listTemplates)
	r.Get("/{id}/exclusions", h.listExclusions)
	r.Post("/{id}/materialize", h.materialize)
	r.Post("/{id}/exclude", h.exclude)
	r.Post("/{id}/restore", h.restore)
}

type createTemplateRequest struct {
	CompanyID   int64           `json:"company_id" validate:"required"`
	DriverID    int64           `json:"driver_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Frequency   string          `json:"frequency" validate:"required,oneof=weekly biweekly monthly"`
	MonthWeek   *int            `json:"month_week"`
	ExpenseType string          `json:"expense_type" validate:"required"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	template, err := h.service.CreateTemplate(r.Context(), CreateTemplateInput{
		CompanyID:   req.CompanyID,
		DriverID:    req.DriverID,
		Amount:      req.Amount,
		Frequency:   periods.Frequency(req.Frequency),
		MonthWeek:   req.MonthWeek,
		ExpenseType: req.ExpenseType,
	})
	if err != nil {
		h.logger.Error("create template", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": template.ID})
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(r.URL.Query().Get("driver_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "driver_id is required")
		return
	}
	templates, err := h.service.ListTemplates(r.Context(), driverID)
	if err != nil {
		h.logger.Error("list templates", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, templates)
}

func (h *Handler) listExclusions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid template id")
		return
	}
	exclusions, err := h.service.ListExclusions(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, exclusions)
}

type periodRequest struct {
	PeriodID int64  `json:"period_id" validate:"required"`
	Reason   string `json:"reason"`
}

func (h *Handler) decodePeriodRequest(w http.ResponseWriter, r *http.Request) (int64, periodRequest, bool) {
	templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid template id")
		return 0, periodRequest{}, false
	}
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return 0, periodRequest{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return 0, periodRequest{}, false
	}
	return templateID, req, true
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	templateID, req, ok := h.decodePeriodRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.Materialize(r.Context(), templateID, req.PeriodID)
	if err != nil {
		h.logger.Error("materialize", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) exclude(w http.ResponseWriter, r *http.Request) {
	templateID, req, ok := h.decodePeriodRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.Exclude(r.Context(), templateID, req.PeriodID, req.Reason); err != nil {
		h.logger.Error("exclude", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"excluded": true})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	templateID, req, ok := h.decodePeriodRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.Restore(r.Context(), templateID, req.PeriodID)
	if err != nil {
		h.logger.Error("restore", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
