package reassign

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// Handler wires the reassignment endpoint.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the reassignment route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.reassign)
}

type reassignRequest struct {
	ElementType string `json:"element_type" validate:"required"`
	ElementID   int64  `json:"element_id" validate:"required"`
	NewPeriodID int64  `json:"new_period_id" validate:"required"`
}

func (h *Handler) reassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	kind, err := ledger.ParseElementKind(req.ElementType)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.service.Reassign(r.Context(), kind, req.ElementID, req.NewPeriodID, actorID(r)); err != nil {
		h.logger.Error("reassign", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"reassigned": true})
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
