package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitorlens/internal/runs"
)

// RunsIndexAction handles GET /api/runs
func RunsIndexAction(ctx *cartridge.Context) error {
	var params RunsParams
	if err := parseParams(ctx, &params); err != nil {
		return respondError(ctx, err)
	}

	summaries, err := runs.Recent(ctx.DB(), params.Operation, params.Limit)
	if err != nil {
		ctx.Logger.Error("Failed to load report runs", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load report runs",
		})
	}

	return ctx.JSON(fiber.Map{"runs": summaries})
}
