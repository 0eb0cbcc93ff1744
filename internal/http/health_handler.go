package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	DBStatus    string    `json:"db_status"`
	SourceState string    `json:"source_state"`
}

// SourceState names the condition of the analytics source: "unconfigured",
// or the circuit breaker state ("closed", "half-open", "open").
type SourceState func() string

// HealthIndexAction reports ledger database connectivity and the state of the
// analytics source.
func HealthIndexAction(source SourceState) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		dbStatus := "ok"

		db := ctx.DBManager.GetConnection()
		if db == nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection unavailable")
		} else {
			sqlDB, err := db.DB()
			if err != nil {
				dbStatus = "error"
				ctx.Logger.Error("Database connection error", slog.Any("error", err))
			} else if err := sqlDB.Ping(); err != nil {
				dbStatus = "error"
				ctx.Logger.Error("Database ping failed", slog.Any("error", err))
			}
		}

		health := HealthStatus{
			Status:      "ok",
			Timestamp:   time.Now(),
			DBStatus:    dbStatus,
			SourceState: "unconfigured",
		}
		if source != nil {
			health.SourceState = source()
		}

		if dbStatus != "ok" || health.SourceState != "closed" {
			health.Status = "degraded"
		}

		return ctx.JSON(health)
	}
}
