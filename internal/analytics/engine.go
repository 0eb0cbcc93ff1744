// Package analytics reconstructs per-visitor activity from the aggregated rows
// of the analytics source. It folds rows into inferred visitors, backfills
// missing landing pages, recomputes derived metrics, classifies power users and
// expands one visitor into a session and page timeline.
//
// Nothing here outlives a single call. The engine holds no caches and stores no
// reconstructed identities.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pariz/gountries"

	"visitorlens/internal/config"
	"visitorlens/internal/gadata"
	"visitorlens/internal/metrics"
)

// Options bounds the queries issued by the engine.
type Options struct {
	PrimaryRowLimit      int64
	ReconcileRowLimit    int64
	DetailRowLimit       int64
	DefaultVisitorLimit  int
	MaxVisitorLimit      int
	PowerUserMinSessions int
	DetailWorkers        int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PrimaryRowLimit:      10000,
		ReconcileRowLimit:    10000,
		DetailRowLimit:       1000,
		DefaultVisitorLimit:  100,
		MaxVisitorLimit:      1000,
		PowerUserMinSessions: 3,
		DetailWorkers:        5,
	}
}

// OptionsFromConfig reads engine options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PrimaryRowLimit:      int64(cfg.PrimaryRowLimit),
		ReconcileRowLimit:    int64(cfg.ReconcileRowLimit),
		DetailRowLimit:       int64(cfg.DetailRowLimit),
		DefaultVisitorLimit:  cfg.DefaultVisitorLimit,
		MaxVisitorLimit:      cfg.MaxVisitorLimit,
		PowerUserMinSessions: cfg.PowerUserMinSessions,
		DetailWorkers:        cfg.DetailWorkers,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PrimaryRowLimit <= 0 {
		o.PrimaryRowLimit = d.PrimaryRowLimit
	}
	if o.ReconcileRowLimit <= 0 {
		o.ReconcileRowLimit = d.ReconcileRowLimit
	}
	if o.DetailRowLimit <= 0 {
		o.DetailRowLimit = d.DetailRowLimit
	}
	if o.DefaultVisitorLimit <= 0 {
		o.DefaultVisitorLimit = d.DefaultVisitorLimit
	}
	if o.MaxVisitorLimit <= 0 {
		o.MaxVisitorLimit = d.MaxVisitorLimit
	}
	if o.PowerUserMinSessions <= 0 {
		o.PowerUserMinSessions = d.PowerUserMinSessions
	}
	if o.DetailWorkers <= 0 {
		o.DetailWorkers = d.DetailWorkers
	}
	return o
}

// SecondaryQueryError reports an optional enrichment query that failed. It is
// logged and absorbed; the affected part of the result is left empty.
type SecondaryQueryError struct {
	Query string
	Err   error
}

func (e *SecondaryQueryError) Error() string {
	return fmt.Sprintf("secondary query %s failed: %v", e.Query, e.Err)
}

func (e *SecondaryQueryError) Unwrap() error {
	return e.Err
}

// Engine runs the visitor reports against an analytics source.
type Engine struct {
	runner    gadata.Runner
	logger    *slog.Logger
	opts      Options
	countries *gountries.Query
}

// NewEngine creates an engine. A nil runner is allowed; every report then
// fails with gadata.ErrAdapterUnavailable.
func NewEngine(runner gadata.Runner, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:    runner,
		logger:    logger,
		opts:      opts.withDefaults(),
		countries: gountries.New(),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// query runs q and verifies the shape of every returned row.
func (e *Engine) query(ctx context.Context, q gadata.Query) ([]gadata.Row, error) {
	if e.runner == nil {
		return nil, gadata.ErrAdapterUnavailable
	}
	rows, err := e.runner.RunQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}
	if err := gadata.CheckShape(q, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// absorb turns the failure of an optional query into a logged
// SecondaryQueryError. Contract violations are returned unchanged.
func (e *Engine) absorb(subreport string, err error) error {
	if isContractError(err) {
		return err
	}
	e.logger.Warn("Optional sub-query failed, continuing without it",
		slog.String("subreport", subreport),
		slog.Any("error", &SecondaryQueryError{Query: subreport, Err: err}))
	metrics.DegradedReports.WithLabelValues(subreport).Inc()
	return nil
}

func isContractError(err error) bool {
	return errors.Is(err, gadata.ErrSchemaMismatch) || errors.Is(err, gadata.ErrQueryTooWide)
}

func observe(operation string, start time.Time) {
	metrics.ReportDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
