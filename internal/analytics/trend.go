package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"visitorlens/internal/gadata"
	"visitorlens/internal/timeframe"
)

// QueryTrend is the name of the daily trend query.
const QueryTrend = "trend"

// TrendPoint counts active users of one day by visitor class. Users of any
// other class count toward Total only.
type TrendPoint struct {
	Date      string `json:"date"`
	New       int64  `json:"new"`
	Returning int64  `json:"returning"`
	Total     int64  `json:"total"`
}

// DailyVisitorTrend returns one point per day with data, oldest first.
func (e *Engine) DailyVisitorTrend(ctx context.Context, r timeframe.Range) ([]TrendPoint, error) {
	defer observe("trend", time.Now())

	q := gadata.Query{
		Name:       QueryTrend,
		DateRange:  r,
		Dimensions: []string{gadata.DimDate, gadata.DimNewVsReturning},
		Metrics:    []string{gadata.MetricActiveUsers},
		OrderBys:   []gadata.OrderBy{gadata.AscDimension(gadata.DimDate)},
		Limit:      e.opts.PrimaryRowLimit,
	}
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("daily visitor trend: %w", err)
	}

	cols := gadata.NewColumns(q)
	points := []TrendPoint{}
	index := make(map[string]int)
	for _, row := range rows {
		date := timeframe.CompactDate(cols.Dim(row, gadata.DimDate))
		i, ok := index[date]
		if !ok {
			i = len(points)
			index[date] = i
			points = append(points, TrendPoint{Date: date})
		}

		users := count(cols.Metric(row, gadata.MetricActiveUsers))
		switch cols.Dim(row, gadata.DimNewVsReturning) {
		case gadata.VisitorNew:
			points[i].New += users
		case gadata.VisitorReturning:
			points[i].Returning += users
		}
		points[i].Total += users
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}
