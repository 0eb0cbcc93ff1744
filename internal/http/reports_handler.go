package http

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitorlens/internal/analytics"
	"visitorlens/internal/gadata"
	"visitorlens/internal/runs"
	"visitorlens/internal/timeframe"
	"visitorlens/internal/visitors"
)

// Error codes returned in JSON error bodies.
const (
	CodeMalformedIdentityKey = "MALFORMED_IDENTITY_KEY"
	CodeAdapterUnavailable   = "ADAPTER_UNAVAILABLE"
	CodeInvalidRequest       = "INVALID_REQUEST"
)

var errInvalidRequest = errors.New("invalid request")

// Reports exposes the reconstruction engine as JSON endpoints.
type Reports struct {
	engine *analytics.Engine
	source SourceState
	ranges *timeframe.RangeParser
}

// NewReports creates the report handlers. source may be nil when no analytics
// source is configured.
func NewReports(engine *analytics.Engine, source SourceState) *Reports {
	return &Reports{
		engine: engine,
		source: source,
		ranges: timeframe.NewRangeParser(),
	}
}

// SourceState returns the analytics source state reported by health checks.
func (h *Reports) SourceState() string {
	if h.source == nil {
		return "unconfigured"
	}
	return h.source()
}

// ListVisitorsAction handles GET /api/visitors
func (h *Reports) ListVisitorsAction(ctx *cartridge.Context) error {
	var params VisitorsParams
	if err := parseParams(ctx, &params); err != nil {
		return respondError(ctx, err)
	}

	r, err := h.ranges.Parse(params.From, params.To)
	if err != nil {
		return respondError(ctx, err)
	}

	start := time.Now()
	list, err := h.engine.ListVisitors(ctx.UserContext(), r, params.Limit)

	entry := runs.Entry{Operation: runs.OperationVisitors, Duration: time.Since(start), Err: err}
	if list != nil {
		entry.ResultCount = len(list.Visitors)
		entry.Degraded = list.Degraded
	}
	h.record(ctx, r, entry)

	if err != nil {
		return respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"visitors": list.Visitors,
		"degraded": nonNil(list.Degraded),
		"from":     r.Start,
		"to":       r.End,
	})
}

// VisitorDetailAction handles GET /api/visitors/:key
func (h *Reports) VisitorDetailAction(ctx *cartridge.Context) error {
	var params RangeParams
	if err := parseParams(ctx, &params); err != nil {
		return respondError(ctx, err)
	}

	r, err := h.ranges.Parse(params.From, params.To)
	if err != nil {
		return respondError(ctx, err)
	}

	start := time.Now()
	detail, err := h.engine.GetVisitorDetail(ctx.UserContext(), ctx.Params("key"), r)

	entry := runs.Entry{Operation: runs.OperationVisitorDetail, Duration: time.Since(start), Err: err}
	if detail != nil {
		entry.ResultCount = len(detail.PageVisits)
		entry.Degraded = detail.Degraded
		entry.Variants = detail.Sources
	}
	// A malformed key never reached the source; there is nothing to record.
	if !errors.Is(err, visitors.ErrMalformedIdentityKey) {
		h.record(ctx, r, entry)
	}

	if err != nil {
		return respondError(ctx, err)
	}

	return ctx.JSON(detail)
}

// PowerUsersAction handles GET /api/power-users
func (h *Reports) PowerUsersAction(ctx *cartridge.Context) error {
	var params PowerUsersParams
	if err := parseParams(ctx, &params); err != nil {
		return respondError(ctx, err)
	}

	r, err := h.ranges.Parse(params.From, params.To)
	if err != nil {
		return respondError(ctx, err)
	}

	minSessions := params.MinSessions
	if minSessions == 0 {
		minSessions = h.engine.Options().PowerUserMinSessions
	}

	start := time.Now()
	users, err := h.engine.ListPowerUsers(ctx.UserContext(), r, minSessions)
	h.record(ctx, r, runs.Entry{
		Operation:   runs.OperationPowerUsers,
		ResultCount: len(users),
		Duration:    time.Since(start),
		Err:         err,
	})
	if err != nil {
		return respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"power_users":  users,
		"min_sessions": minSessions,
		"from":         r.Start,
		"to":           r.End,
	})
}

// TrendAction handles GET /api/trend
func (h *Reports) TrendAction(ctx *cartridge.Context) error {
	var params RangeParams
	if err := parseParams(ctx, &params); err != nil {
		return respondError(ctx, err)
	}

	r, err := h.ranges.Parse(params.From, params.To)
	if err != nil {
		return respondError(ctx, err)
	}

	start := time.Now()
	points, err := h.engine.DailyVisitorTrend(ctx.UserContext(), r)
	h.record(ctx, r, runs.Entry{
		Operation:   runs.OperationTrend,
		ResultCount: len(points),
		Duration:    time.Since(start),
		Err:         err,
	})
	if err != nil {
		return respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"trend": points,
		"from":  r.Start,
		"to":    r.End,
	})
}

func parseParams(ctx *cartridge.Context, params interface{}) error {
	if err := ctx.QueryParser(params); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := validateParams(params); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// record writes a ledger entry. Ledger failures never fail the report.
func (h *Reports) record(ctx *cartridge.Context, r timeframe.Range, entry runs.Entry) {
	entry.StartDate, entry.EndDate = r.Start, r.End
	if span, err := h.ranges.Resolve(r); err == nil {
		entry.StartDate = span.From.Format(timeframe.DateLayout)
		entry.EndDate = span.To.Format(timeframe.DateLayout)
	}

	if _, err := runs.Record(ctx.DB(), entry); err != nil {
		ctx.Logger.Warn("Failed to record report run",
			slog.String("operation", entry.Operation),
			slog.Any("error", err))
	}
}

func respondError(ctx *cartridge.Context, err error) error {
	switch {
	case errors.Is(err, visitors.ErrMalformedIdentityKey):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Malformed visitor key",
			"code":  CodeMalformedIdentityKey,
		})
	case errors.Is(err, gadata.ErrAdapterUnavailable):
		ctx.Logger.Warn("Analytics source unavailable", slog.Any("error", err))
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analytics source unavailable",
			"code":  CodeAdapterUnavailable,
		})
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, timeframe.ErrInvalidDate),
		errors.Is(err, timeframe.ErrInvertedSpan):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  CodeInvalidRequest,
		})
	default:
		ctx.Logger.Error("Report failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
