package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetops/fleetops/internal/eventual"
	"github.com/fleetops/fleetops/internal/fuelsync"
	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/observability"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/reassign"
	"github.com/fleetops/fleetops/internal/recurring"
	"github.com/fleetops/fleetops/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	PeriodsHandler   *periods.Handler
	LedgerHandler    *ledger.Handler
	RecurringHandler *recurring.Handler
	EventualHandler  *eventual.Handler
	ReassignHandler  *reassign.Handler
	FuelSyncHandler  *fuelsync.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with FleetOps defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/periods", params.PeriodsHandler.MountRoutes)
		r.Route("/calculations", params.LedgerHandler.MountRoutes)
		r.Route("/recurring", params.RecurringHandler.MountRoutes)
		r.Route("/deductions", params.EventualHandler.MountRoutes)
		r.Route("/reassignments", params.ReassignHandler.MountRoutes)
		r.Route("/fuel-sync", params.FuelSyncHandler.MountRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
