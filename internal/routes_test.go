package internal

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/assert"

	"visitorlens/internal/analytics"
	"visitorlens/internal/http"
)

func TestReportRoutesRegistered(t *testing.T) {
	reports := http.NewReports(analytics.NewEngine(nil, nil, analytics.DefaultOptions()), nil)
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: func(s *cartridge.Server) { MountAppRoutes(s, reports) },
	})

	registered := make(map[string]bool)
	for _, route := range srv.App.GetRoutes(true) {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		fiber.MethodGet + " /_health",
		fiber.MethodHead + " /_health",
		fiber.MethodGet + " /metrics",
		fiber.MethodGet + " /api/visitors",
		fiber.MethodGet + " /api/visitors/:key",
		fiber.MethodGet + " /api/power-users",
		fiber.MethodGet + " /api/trend",
		fiber.MethodGet + " /api/runs",
	} {
		assert.Truef(t, registered[want], "expected route %q to be registered", want)
	}
}
