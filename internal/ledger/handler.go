package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// Handler wires HTTP endpoints for calculations and element CRUD.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/recompute", h.recompute)
	r.Get("/{periodID}/{driverID}", h.getCalculation)
	r.Post("/loads", h.createLoad)
	r.Post("/other-income", h.createOtherIncome)
	r.Post("/fuel-expenses", h.createFuelExpense)
	r.Delete("/elements/{kind}/{id}", h.deleteElement)
}

type calcResponse struct {
	PeriodID           int64           `json:"period_id"`
	DriverID           int64           `json:"driver_id"`
	GrossEarnings      decimal.Decimal `json:"gross_earnings"`
	OtherIncome        decimal.Decimal `json:"other_income"`
	FuelExpenses       decimal.Decimal `json:"fuel_expenses"`
	TotalDeductions    decimal.Decimal `json:"total_deductions"`
	NetPayment         decimal.Decimal `json:"net_payment"`
	HasNegativeBalance bool            `json:"has_negative_balance"`
}

func toCalcResponse(c Calculation) calcResponse {
	return calcResponse{
		PeriodID:           c.PeriodID,
		DriverID:           c.DriverID,
		GrossEarnings:      c.GrossEarnings,
		OtherIncome:        c.OtherIncome,
		FuelExpenses:       c.FuelExpenses,
		TotalDeductions:    c.TotalDeductions,
		NetPayment:         c.NetPayment,
		HasNegativeBalance: c.HasNegativeBalance,
	}
}

type recomputeRequest struct {
	PeriodID int64 `json:"period_id" validate:"required"`
	DriverID int64 `json:"driver_id" validate:"required"`
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	calc, err := h.service.Recompute(r.Context(), req.PeriodID, req.DriverID)
	if err != nil {
		h.logger.Error("recompute", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCalcResponse(calc))
}

func (h *Handler) getCalculation(w http.ResponseWriter, r *http.Request) {
	periodID, err1 := strconv.ParseInt(chi.URLParam(r, "periodID"), 10, 64)
	driverID, err2 := strconv.ParseInt(chi.URLParam(r, "driverID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid period or driver id")
		return
	}
	calc, err := h.service.Get(r.Context(), periodID, driverID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCalcResponse(calc))
}

type createLoadRequest struct {
	PeriodID  int64           `json:"period_id" validate:"required"`
	DriverID  int64           `json:"driver_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Reference string          `json:"reference"`
}

func (h *Handler) createLoad(w http.ResponseWriter, r *http.Request) {
	var req createLoadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	load, err := h.service.CreateLoad(r.Context(), CreateLoadInput{
		PeriodID:  req.PeriodID,
		DriverID:  req.DriverID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.logger.Error("create load", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": load.ID})
}

type createOtherIncomeRequest struct {
	PeriodID    int64           `json:"period_id" validate:"required"`
	DriverID    int64           `json:"driver_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description"`
}

func (h *Handler) createOtherIncome(w http.ResponseWriter, r *http.Request) {
	var req createOtherIncomeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	income, err := h.service.CreateOtherIncome(r.Context(), CreateOtherIncomeInput{
		PeriodID:    req.PeriodID,
		DriverID:    req.DriverID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		h.logger.Error("create other income", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": income.ID})
}

type createFuelExpenseRequest struct {
	PeriodID      int64           `json:"period_id" validate:"required"`
	DriverID      int64           `json:"driver_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PurchasedAt   time.Time       `json:"purchased_at" validate:"required"`
	CardLastFour  string          `json:"card_last_four" validate:"omitempty,len=4,numeric"`
	InvoiceNumber *string         `json:"invoice_number"`
	StationName   *string         `json:"station_name"`
}

func (h *Handler) createFuelExpense(w http.ResponseWriter, r *http.Request) {
	var req createFuelExpenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	expense, err := h.service.CreateFuelExpense(r.Context(), CreateFuelExpenseInput{
		PeriodID:      req.PeriodID,
		DriverID:      req.DriverID,
		Amount:        req.Amount,
		PurchasedAt:   req.PurchasedAt,
		CardLastFour:  req.CardLastFour,
		InvoiceNumber: req.InvoiceNumber,
		StationName:   req.StationName,
	})
	if err != nil {
		h.logger.Error("create fuel expense", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": expense.ID})
}

func (h *Handler) deleteElement(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseElementKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid element id")
		return
	}
	if err := h.service.DeleteElement(r.Context(), kind, id); err != nil {
		h.logger.Error("delete element", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
