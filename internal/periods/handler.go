package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// Handler wires HTTP endpoints for period generation and lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ensure", h.ensurePeriod)
	r.Get("/{id}", h.getPeriod)
	r.Get("/", h.listPeriods)
	r.Post("/{id}/transition", h.transition)
	r.Post("/{id}/lock", h.lock)
}

type periodResponse struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Frequency string `json:"frequency"`
	Status    string `json:"status"`
	Locked    bool   `json:"locked"`
}

func toResponse(p Period) periodResponse {
	return periodResponse{
		ID:        p.ID,
		CompanyID: p.CompanyID,
		StartDate: p.StartDate.Format("2006-01-02"),
		EndDate:   p.EndDate.Format("2006-01-02"),
		Frequency: string(p.Frequency),
		Status:    string(p.Status),
		Locked:    p.Locked,
	}
}

type ensureRequest struct {
	CompanyID int64  `json:"company_id" validate:"required"`
	DriverID  int64  `json:"driver_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) ensurePeriod(w http.ResponseWriter, r *http.Request) {
	var req ensureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)
	period, err := h.service.EnsurePeriod(r.Context(), req.CompanyID, req.DriverID, date)
	if err != nil {
		h.logger.Error("ensure period", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(period))
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid period id")
		return
	}
	period, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(period))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "company_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.service.ListByCompany(r.Context(), companyID, limit, offset)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	out := make([]periodResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=open processing closed paid"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid period id")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	if err := h.service.Transition(r.Context(), id, Status(req.Status), actorID(r)); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			httpx.Problem(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "invalid period id")
		return
	}
	if err := h.service.Lock(r.Context(), id, actorID(r)); err != nil {
		if errors.Is(err, ErrNotLockable) {
			httpx.Problem(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"locked": true})
}

// actorID reads the upstream-authenticated actor, if the gateway forwarded one.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
