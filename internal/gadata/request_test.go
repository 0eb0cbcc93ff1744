package gadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/timeframe"
)

func Test_buildRunReportRequest(t *testing.T) {
	q := Query{
		Name:       "pageviews",
		DateRange:  timeframe.Range{Start: "7daysAgo", End: "today"},
		Dimensions: []string{DimPagePath, DimDate, DimHour},
		Metrics:    []string{MetricPageViews},
		Filters: []Filter{
			Exact(DimCountry, "United States"),
			Contains(DimEventName, "scroll"),
			InList(DimPagePath, []string{"/", "/pricing"}),
		},
		OrderBys: []OrderBy{AscDimension(DimDate), AscDimension(DimHour), DescMetric(MetricPageViews)},
		Limit:    500,
	}

	req := buildRunReportRequest(q)

	require.Len(t, req.DateRanges, 1)
	assert.Equal(t, "7daysAgo", req.DateRanges[0].StartDate)
	assert.Equal(t, "today", req.DateRanges[0].EndDate)
	assert.Equal(t, int64(500), req.Limit)

	require.Len(t, req.Dimensions, 3)
	assert.Equal(t, DimPagePath, req.Dimensions[0].Name)
	require.Len(t, req.Metrics, 1)
	assert.Equal(t, MetricPageViews, req.Metrics[0].Name)

	require.NotNil(t, req.DimensionFilter)
	require.NotNil(t, req.DimensionFilter.AndGroup)
	exprs := req.DimensionFilter.AndGroup.Expressions
	require.Len(t, exprs, 3)
	assert.Equal(t, "EXACT", exprs[0].Filter.StringFilter.MatchType)
	assert.Equal(t, "United States", exprs[0].Filter.StringFilter.Value)
	assert.Equal(t, "CONTAINS", exprs[1].Filter.StringFilter.MatchType)
	assert.Nil(t, exprs[2].Filter.StringFilter)
	assert.Equal(t, []string{"/", "/pricing"}, exprs[2].Filter.InListFilter.Values)

	require.Len(t, req.OrderBys, 3)
	assert.Equal(t, DimDate, req.OrderBys[0].Dimension.DimensionName)
	assert.False(t, req.OrderBys[0].Desc)
	assert.Nil(t, req.OrderBys[2].Dimension)
	assert.Equal(t, MetricPageViews, req.OrderBys[2].Metric.MetricName)
	assert.True(t, req.OrderBys[2].Desc)
}

func Test_buildFilterExpression(t *testing.T) {
	assert.Nil(t, buildFilterExpression(nil))

	single := buildFilterExpression([]Filter{Exact(DimHour, "09")})
	require.NotNil(t, single.Filter)
	assert.Nil(t, single.AndGroup)
	assert.Equal(t, DimHour, single.Filter.FieldName)
}
