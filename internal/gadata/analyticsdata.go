package gadata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"visitorlens/internal/config"
)

// AnalyticsDataRunner runs queries through the Google Analytics Data API (GA4).
type AnalyticsDataRunner struct {
	service  *analyticsdata.Service
	property string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAnalyticsDataRunner builds a client for the configured GA4 property.
// It returns ErrAdapterUnavailable when no property is configured.
func NewAnalyticsDataRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*AnalyticsDataRunner, error) {
	if !cfg.HasAnalyticsSource() {
		return nil, fmt.Errorf("%w: no property configured", ErrAdapterUnavailable)
	}

	opts := []option.ClientOption{option.WithScopes(analyticsdata.AnalyticsReadonlyScope)}
	if cfg.GACredentialsFile != "" {
		if _, err := os.Stat(cfg.GACredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: credentials file not found at path: %s", ErrAdapterUnavailable, cfg.GACredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.GACredentialsFile))
	}

	service, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create analytics data client: %v", ErrAdapterUnavailable, err)
	}

	property := cfg.GAPropertyID
	if !strings.HasPrefix(property, "properties/") {
		property = "properties/" + property
	}

	logger.Info("Analytics data client initialized", slog.String("property", property))

	return &AnalyticsDataRunner{
		service:  service,
		property: property,
		timeout:  cfg.QueryTimeout(),
		logger:   logger,
	}, nil
}

// RunQuery implements Runner.
func (r *AnalyticsDataRunner) RunQuery(ctx context.Context, q Query) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.service.Properties.RunReport(r.property, buildRunReportRequest(q)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("run report %q: %w", q.Name, err)
	}

	rows := make([]Row, 0, len(resp.Rows))
	for i, gr := range resp.Rows {
		row := Row{
			DimensionValues: make([]string, len(gr.DimensionValues)),
			MetricValues:    make([]float64, len(gr.MetricValues)),
		}
		for j, dv := range gr.DimensionValues {
			row.DimensionValues[j] = dv.Value
		}
		for j, mv := range gr.MetricValues {
			v, err := strconv.ParseFloat(mv.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: query %q row %d metric %d is not numeric: %q", ErrSchemaMismatch, q.Name, i, j, mv.Value)
			}
			row.MetricValues[j] = v
		}
		rows = append(rows, row)
	}

	r.logger.Debug("Report query completed",
		slog.String("query", q.Name),
		slog.Int("rows", len(rows)),
		slog.Int64("row_count", resp.RowCount))

	return rows, nil
}

func buildRunReportRequest(q Query) *analyticsdata.RunReportRequest {
	req := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: q.DateRange.Start,
			EndDate:   q.DateRange.End,
		}},
		Limit: q.Limit,
	}

	for _, d := range q.Dimensions {
		req.Dimensions = append(req.Dimensions, &analyticsdata.Dimension{Name: d})
	}
	for _, m := range q.Metrics {
		req.Metrics = append(req.Metrics, &analyticsdata.Metric{Name: m})
	}

	req.DimensionFilter = buildFilterExpression(q.Filters)

	for _, o := range q.OrderBys {
		ob := &analyticsdata.OrderBy{Desc: o.Desc}
		if o.Metric != "" {
			ob.Metric = &analyticsdata.MetricOrderBy{MetricName: o.Metric}
		} else {
			ob.Dimension = &analyticsdata.DimensionOrderBy{DimensionName: o.Dimension}
		}
		req.OrderBys = append(req.OrderBys, ob)
	}

	return req
}

func buildFilterExpression(filters []Filter) *analyticsdata.FilterExpression {
	if len(filters) == 0 {
		return nil
	}

	exprs := make([]*analyticsdata.FilterExpression, 0, len(filters))
	for _, f := range filters {
		gf := &analyticsdata.Filter{FieldName: f.Dimension}
		switch f.Match {
		case MatchInList:
			gf.InListFilter = &analyticsdata.InListFilter{Values: f.Values, CaseSensitive: true}
		default:
			gf.StringFilter = &analyticsdata.StringFilter{MatchType: string(f.Match), Value: f.Value}
		}
		exprs = append(exprs, &analyticsdata.FilterExpression{Filter: gf})
	}

	if len(exprs) == 1 {
		return exprs[0]
	}
	return &analyticsdata.FilterExpression{
		AndGroup: &analyticsdata.FilterExpressionList{Expressions: exprs},
	}
}
