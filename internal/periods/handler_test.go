package periods

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	_ "github.com/fleetops/fleetops/testing"
)

func newRouter(repo Repository) http.Handler {
	service := NewService(repo, nil, slog.Default())
	handler := NewHandler(slog.Default(), service)
	r := chi.NewRouter()
	r.Route("/periods", handler.MountRoutes)
	return r
}

func TestEnsurePeriodEndpoint(t *testing.T) {
	repo := &stubRepo{schedule: &PaySchedule{
		CompanyID:  1,
		Frequency:  FrequencyWeekly,
		AnchorDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}}
	router := newRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/periods/ensure",
		strings.NewReader(`{"company_id":1,"driver_id":2,"date":"2024-01-10"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.StartDate != "2024-01-08" || body.EndDate != "2024-01-14" {
		t.Fatalf("expected window [2024-01-08, 2024-01-14], got [%s, %s]", body.StartDate, body.EndDate)
	}
	if body.Status != "open" {
		t.Fatalf("expected open period, got %s", body.Status)
	}
}

func TestEnsurePeriodRejectsBadDate(t *testing.T) {
	router := newRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodPost, "/periods/ensure",
		strings.NewReader(`{"company_id":1,"driver_id":2,"date":"01/10/2024"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestEnsurePeriodWithoutSchedule(t *testing.T) {
	router := newRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodPost, "/periods/ensure",
		strings.NewReader(`{"company_id":1,"driver_id":2,"date":"2024-01-10"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing schedule, got %d", rec.Code)
	}
}

func TestTransitionEndpointConflict(t *testing.T) {
	open := Period{ID: 1, CompanyID: 1, Status: StatusOpen}
	router := newRouter(&stubRepo{period: &open})

	req := httptest.NewRequest(http.MethodPost, "/periods/1/transition",
		strings.NewReader(`{"status":"paid"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestLockEndpointRejectsOpenPeriod(t *testing.T) {
	open := Period{ID: 1, CompanyID: 1, Status: StatusOpen}
	router := newRouter(&stubRepo{period: &open})

	req := httptest.NewRequest(http.MethodPost, "/periods/1/lock", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetPeriodNotFound(t *testing.T) {
	router := newRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/periods/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
