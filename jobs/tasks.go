package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/fleetops/fleetops/internal/fuelsync"
	jobmetrics "github.com/fleetops/fleetops/internal/jobs"
	"github.com/fleetops/fleetops/internal/recurring"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFuelSyncBatch ingests a batch of fuel-card transactions.
	TaskFuelSyncBatch = "fuelsync:batch"
	// TaskRecurringSweep materializes active recurring templates into
	// their drivers' current periods.
	TaskRecurringSweep = "recurring:sweep"
)

// FuelSyncBatchPayload carries one card-network delivery.
type FuelSyncBatchPayload struct {
	BatchID      string                    `json:"batch_id"`
	Transactions []fuelsync.RawTransaction `json:"transactions"`
}

// NewFuelSyncBatchTask constructs an Asynq task for a transaction batch.
func NewFuelSyncBatchTask(payload FuelSyncBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFuelSyncBatch, data), nil
}

// NewFuelSyncBatchHandler processes TaskFuelSyncBatch tasks. Transactions
// are ingested independently; per-transaction failures are reported, not
// retried as a whole batch.
func NewFuelSyncBatchHandler(service *fuelsync.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskFuelSyncBatch)
		var payload FuelSyncBatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		items := service.IngestBatch(ctx, payload.Transactions)
		inserted, duplicates, unmatched, failed := 0, 0, 0, 0
		for _, item := range items {
			switch {
			case item.Err != nil:
				failed++
			case item.Result.Outcome == fuelsync.OutcomeInserted:
				inserted++
			case item.Result.Outcome == fuelsync.OutcomeDuplicate:
				duplicates++
			case item.Result.Outcome == fuelsync.OutcomeUnmatched:
				unmatched++
			}
		}
		logger.Info("fuel sync batch processed",
			slog.String("batch_id", payload.BatchID),
			slog.Int("inserted", inserted),
			slog.Int("duplicates", duplicates),
			slog.Int("unmatched", unmatched),
			slog.Int("failed", failed))
		return tracker.End(nil)
	}
}

// NewRecurringSweepTask constructs the scheduled sweep task.
func NewRecurringSweepTask() *asynq.Task {
	return asynq.NewTask(TaskRecurringSweep, nil)
}

// NewRecurringSweepHandler processes TaskRecurringSweep tasks.
func NewRecurringSweepHandler(service *recurring.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskRecurringSweep)
		materialized, err := service.MaterializeDue(ctx)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("recurring sweep completed", slog.Int("materialized", materialized))
		return tracker.End(nil)
	}
}
