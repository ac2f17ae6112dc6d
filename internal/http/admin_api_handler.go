// Package http implements visitly's server-side handlers: the admin API for
// triggering aggregation and reading reports, plus auth and health.
package http

import (
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitly/internal/aggregation"
	"visitly/internal/reporting"
	"visitly/internal/timeframe"
)

// AggregateTriggerAction returns the handler for POST /admin/api/aggregate:
// a manual aggregation run. Responds 409 when a run is already in flight.
func AggregateTriggerAction(aggregator *aggregation.Aggregator) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		result, err := aggregator.Run()
		if err != nil {
			if errors.Is(err, aggregation.ErrAlreadyRunning) {
				return ctx.Status(http.StatusConflict).JSON(fiber.Map{
					"error": "An aggregation run is already in progress",
					"code":  "AGGREGATION_RUNNING",
				})
			}
			ctx.Logger.Error("Manual aggregation run failed", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Aggregation failed",
				"code":  "AGGREGATION_ERROR",
			})
		}

		return ctx.JSON(result)
	}
}

// AggregateStatusAction returns the handler for GET /admin/api/aggregate/status.
func AggregateStatusAction(aggregator *aggregation.Aggregator) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		status, err := aggregator.Status()
		if err != nil {
			ctx.Logger.Error("Failed to read aggregation status", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to read status",
			})
		}
		return ctx.JSON(status)
	}
}

// ReportAction handles GET /admin/api/report. The range comes from
// ?range=today|last_7_days|last_30_days or from
// ?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD (inclusive).
func ReportAction(ctx *cartridge.Context) error {
	rng, err := timeframe.Parse(
		ctx.Query("range"),
		ctx.Query("startDate"),
		ctx.Query("endDate"),
		time.Now().UTC(),
	)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "INVALID_RANGE",
		})
	}

	report, err := reporting.BuildReport(ctx.DB(), rng)
	if err != nil {
		ctx.Logger.Error("Failed to build report",
			slog.String("start", rng.Start.Format("2006-01-02")),
			slog.String("end", rng.End.Format("2006-01-02")),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build report",
			"code":  "REPORT_ERROR",
		})
	}

	return ctx.JSON(report)
}
