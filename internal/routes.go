package internal

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visitorlens/internal/http"
)

// reportsCORSConfig allows read-only cross-origin access to the report API.
var reportsCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,HEAD,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server, reports *http.Reports) {
	// Report API
	// Consumed by dashboards and scripts, so no Sec-Fetch-Site validation
	apiConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         reportsCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Probes and scrapers
	opsConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	health := http.HealthIndexAction(reports.SourceState)
	srv.Get("/_health", health, opsConfig)
	srv.Head("/_health", health, opsConfig)

	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	}, opsConfig)

	srv.Get("/api/visitors", reports.ListVisitorsAction, apiConfig)
	srv.Get("/api/visitors/:key", reports.VisitorDetailAction, apiConfig)
	srv.Get("/api/power-users", reports.PowerUsersAction, apiConfig)
	srv.Get("/api/trend", reports.TrendAction, apiConfig)
	srv.Get("/api/runs", http.RunsIndexAction, apiConfig)

	// Unknown API paths get a JSON 404 rather than the default HTML page
	srv.App().Use("/api", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	})
}
