package fuelsync

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/platform/httpx"
)

// BatchEnqueuer hands a transaction batch to the background worker.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, txns []RawTransaction) (string, error)
}

// Handler wires ingestion endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  BatchEnqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, enqueuer BatchEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, validator: validator.New()}
}

// MountRoutes registers ingestion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/ingest", h.ingest)
	r.Post("/batch", h.enqueueBatch)
}

type rawTransactionRequest struct {
	ExternalID    string          `json:"external_id" validate:"required,uuid"`
	CardLastFour  string          `json:"card_last_four" validate:"required,len=4,numeric"`
	OccurredAt    time.Time       `json:"occurred_at" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	InvoiceNumber *string         `json:"invoice_number"`
	StationName   *string         `json:"station_name"`
}

func (req rawTransactionRequest) toDomain() RawTransaction {
	return RawTransaction{
		ExternalID:    uuid.MustParse(req.ExternalID),
		CardLastFour:  req.CardLastFour,
		OccurredAt:    req.OccurredAt,
		Amount:        req.Amount,
		InvoiceNumber: req.InvoiceNumber,
		StationName:   req.StationName,
	}
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req rawTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	result, err := h.service.Ingest(r.Context(), req.toDomain())
	if err != nil {
		h.logger.Error("ingest transaction", slog.Any("error", err))
		httpx.Error(w, err)
		return
	}
	status := http.StatusOK
	if result.Outcome == OutcomeInserted {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{
		"outcome":         result.Outcome,
		"fuel_expense_id": result.FuelExpenseID,
	})
}

type batchRequest struct {
	Transactions []rawTransactionRequest `json:"transactions" validate:"required,min=1,dive"`
}

func (h *Handler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	txns := make([]RawTransaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		txns = append(txns, t.toDomain())
	}
	jobID, err := h.enqueuer.EnqueueBatch(r.Context(), txns)
	if err != nil {
		h.logger.Error("enqueue batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "could not enqueue batch")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"count":  len(txns),
	})
}
