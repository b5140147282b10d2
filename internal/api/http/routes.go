package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/eto"
	"github.com/agroclim/matopiba-eto/internal/preprocess"
	"github.com/agroclim/matopiba-eto/internal/store"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

// Deps carries everything the HTTP layer reads from. Apart from the hourly
// endpoint, handlers never trigger computation; they only serve what the
// batch runs have published.
type Deps struct {
	Cache     cache.Cache
	Audit     store.AuditStore
	Hourly    weather.Provider
	Locations []weather.Location
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/eto/latest", func(c *fiber.Ctx) error {
		raw, ok := deps.Cache.Get(c.Context(), cache.KeyLatestBatch, weather.DateRange{})
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no batch result available yet")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	})

	v1.Get("/eto/status", func(c *fiber.Ctx) error {
		raw, ok := deps.Cache.Get(c.Context(), cache.KeyLatestBatchMeta, weather.DateRange{})
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no batch run recorded yet")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	})

	v1.Get("/eto/locations", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"count":     len(deps.Locations),
			"locations": deps.Locations,
		})
	})

	v1.Get("/eto/hourly", func(c *fiber.Ctx) error {
		loc, err := findLocation(deps.Locations, c.Query("location"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		days, err := parseDays(c.Query("days", "3"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		today := time.Now().UTC().Truncate(24 * time.Hour)
		rng, err := weather.NewDateRange(today.AddDate(0, 0, -(days-1)), today.AddDate(0, 0, 1))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		series, warnings, err := deps.Hourly.GetWeather(c.Context(), loc, rng)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, "hourly fetch failed: "+err.Error())
		}
		if series.Len() == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no hourly data for requested window")
		}

		cleaned, w := preprocess.Run(series, loc)
		warnings = append(warnings, w...)

		records, w, err := eto.ComputeHourly(cleaned, loc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "hourly eto failed: "+err.Error())
		}
		warnings = append(warnings, w...)

		totals, w := eto.AggregateDaily(records)
		warnings = append(warnings, w...)

		return c.JSON(fiber.Map{
			"location":     loc,
			"hours":        records,
			"daily_totals": totals,
			"warnings":     warnings,
		})
	})

	v1.Get("/eto/runs/last", func(c *fiber.Ctx) error {
		audit, err := deps.Audit.LastSuccessful(c.Context())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no successful run recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}
		return c.JSON(audit)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func findLocation(locations []weather.Location, id string) (weather.Location, error) {
	if id == "" {
		return weather.Location{}, errors.New("location query parameter is required")
	}
	for _, loc := range locations {
		if loc.ID == id {
			return loc, nil
		}
	}
	return weather.Location{}, errors.New("unknown location " + id)
}

func parseDays(s string) (int, error) {
	days, err := strconv.Atoi(s)
	if err != nil || days < 1 || days > 10 {
		return 0, errors.New("days must be an integer between 1 and 10")
	}
	return days, nil
}
