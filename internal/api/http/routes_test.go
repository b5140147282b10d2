package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/store"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

func newTestApp(t *testing.T) (*fiber.App, cache.Cache, *store.MemoryStore) {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})

	c := cache.New("", t.TempDir(), 0, time.Hour, clockwork.NewRealClock())
	audit := store.NewMemoryStore(0, 0)

	RegisterRoutes(app, Deps{
		Cache: c,
		Audit: audit,
		Locations: []weather.Location{
			{ID: "balsas-ma", Name: "Balsas", State: "MA", Latitude: -7.5325, Longitude: -46.0356},
		},
	})
	return app, c, audit
}

// TestLatestEndpoint verifies that the latest-batch endpoint serves the
// published payload verbatim and returns 404 before any run has completed.
func TestLatestEndpoint(t *testing.T) {
	app, c, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/eto/latest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	payload := `{"forecasts":[],"metadata":{"run_label":"abc"}}`
	c.Put(context.Background(), cache.KeyLatestBatch, []byte(payload), weather.DateRange{}, time.Hour)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/eto/latest", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != payload {
		t.Fatalf("payload must be served verbatim, got %s", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	app, c, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/eto/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	c.Put(context.Background(), cache.KeyLatestBatchMeta, []byte(`{"run_label":"abc","state":"DONE"}`), weather.DateRange{}, time.Hour)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/eto/status", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestLocationsEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/eto/locations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected 1 location, got %d", out.Count)
	}
}

func TestLastRunEndpoint(t *testing.T) {
	app, _, audit := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/eto/runs/last", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	if err := audit.RecordRun(context.Background(), store.RunAudit{RunLabel: "abc", Status: "DONE"}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/eto/runs/last", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var audit2 store.RunAudit
	if err := json.NewDecoder(resp.Body).Decode(&audit2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if audit2.RunLabel != "abc" {
		t.Fatalf("expected run abc, got %q", audit2.RunLabel)
	}
}

// TestHourlyValidation verifies that the hourly endpoint enforces its query
// parameters before touching any upstream.
func TestHourlyValidation(t *testing.T) {
	app, _, _ := newTestApp(t)

	// Missing location parameter.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/eto/hourly", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Unknown location.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/eto/hourly?location=nowhere", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Out-of-range days value.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/eto/hourly?location=balsas-ma&days=11", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}
