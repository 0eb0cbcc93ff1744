// Package gadata defines the contract with the dimensional analytics source and
// ships its Google Analytics Data API implementation.
//
// The source only exposes aggregated rows: an ordered tuple of dimension values
// and an ordered tuple of metric values, positionally aligned with the
// dimensions and metrics named in the request.
package gadata

import (
	"context"
	"errors"
	"fmt"

	"visitorlens/internal/config"
	"visitorlens/internal/timeframe"
)

var (
	// ErrAdapterUnavailable means no usable client exists for the analytics source.
	ErrAdapterUnavailable = errors.New("analytics source unavailable")

	// ErrSchemaMismatch means a returned row does not match the requested dimensions/metrics.
	ErrSchemaMismatch = errors.New("row schema mismatch")

	// ErrQueryTooWide means a query exceeds the upstream dimension+filter cap.
	ErrQueryTooWide = errors.New("query exceeds dimension and filter cap")
)

// Runner executes report queries against the analytics source.
type Runner interface {
	RunQuery(ctx context.Context, q Query) ([]Row, error)
}

// MatchType selects how a string filter compares values.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchContains MatchType = "CONTAINS"
	MatchInList   MatchType = "IN_LIST"
)

// Filter restricts one dimension. Filters in a query are AND-ed together.
type Filter struct {
	Dimension string
	Match     MatchType
	Value     string
	Values    []string
}

func Exact(dimension, value string) Filter {
	return Filter{Dimension: dimension, Match: MatchExact, Value: value}
}

func Contains(dimension, value string) Filter {
	return Filter{Dimension: dimension, Match: MatchContains, Value: value}
}

func InList(dimension string, values []string) Filter {
	return Filter{Dimension: dimension, Match: MatchInList, Values: values}
}

// OrderBy sorts rows by a dimension or a metric.
type OrderBy struct {
	Dimension string
	Metric    string
	Desc      bool
}

func AscDimension(name string) OrderBy { return OrderBy{Dimension: name} }
func DescDimension(name string) OrderBy { return OrderBy{Dimension: name, Desc: true} }
func DescMetric(name string) OrderBy { return OrderBy{Metric: name, Desc: true} }

// Query is one report request.
type Query struct {
	// Name labels the query in logs and metrics.
	Name       string
	DateRange  timeframe.Range
	Dimensions []string
	Metrics    []string
	Filters    []Filter
	OrderBys   []OrderBy
	Limit      int64
}

// Row is one aggregated result row.
type Row struct {
	DimensionValues []string
	MetricValues    []float64
}

// Validate checks the query against the source contract before it is sent.
func (q Query) Validate() error {
	if len(q.Dimensions) == 0 || len(q.Metrics) == 0 {
		return fmt.Errorf("query %q: dimensions and metrics are required", q.Name)
	}
	if width := len(q.Dimensions) + len(q.Filters); width > config.MaxQueryFields {
		return fmt.Errorf("%w: query %q uses %d of %d", ErrQueryTooWide, q.Name, width, config.MaxQueryFields)
	}
	for _, f := range q.Filters {
		if f.Dimension == "" {
			return fmt.Errorf("query %q: filter without dimension", q.Name)
		}
		if f.Match == MatchInList && len(f.Values) == 0 {
			return fmt.Errorf("query %q: empty in-list filter on %s", q.Name, f.Dimension)
		}
	}
	return nil
}

// CheckShape verifies every row carries exactly one value per requested
// dimension and metric.
func CheckShape(q Query, rows []Row) error {
	for i, row := range rows {
		if len(row.DimensionValues) != len(q.Dimensions) || len(row.MetricValues) != len(q.Metrics) {
			return fmt.Errorf("%w: query %q row %d has %d/%d dimensions and %d/%d metrics",
				ErrSchemaMismatch, q.Name, i,
				len(row.DimensionValues), len(q.Dimensions),
				len(row.MetricValues), len(q.Metrics))
		}
	}
	return nil
}

// Columns maps dimension and metric names to their positions in a row.
type Columns struct {
	dims    map[string]int
	metrics map[string]int
}

func NewColumns(q Query) Columns {
	c := Columns{
		dims:    make(map[string]int, len(q.Dimensions)),
		metrics: make(map[string]int, len(q.Metrics)),
	}
	for i, d := range q.Dimensions {
		c.dims[d] = i
	}
	for i, m := range q.Metrics {
		c.metrics[m] = i
	}
	return c
}

// Dim returns the named dimension value, or "" when the query did not request it.
// Rows must have passed CheckShape.
func (c Columns) Dim(row Row, name string) string {
	i, ok := c.dims[name]
	if !ok {
		return ""
	}
	return row.DimensionValues[i]
}

// Metric returns the named metric value, or 0 when the query did not request it.
func (c Columns) Metric(row Row, name string) float64 {
	i, ok := c.metrics[name]
	if !ok {
		return 0
	}
	return row.MetricValues[i]
}

// Has reports whether the dimension was requested.
func (c Columns) Has(name string) bool {
	_, ok := c.dims[name]
	return ok
}
