package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"visitorlens/internal/gadata"
	"visitorlens/internal/pkg/referrers"
	"visitorlens/internal/timeframe"
	"visitorlens/internal/visitors"
)

// QueryPowerUsers is the name of the power user query.
const QueryPowerUsers = "power_users"

// PowerUserRecord is an inferred visitor grouped without date, hour or landing
// page, so repeat activity across the whole range accumulates.
type PowerUserRecord struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`

	Country      string `json:"country"`
	Region       string `json:"region"`
	City         string `json:"city"`
	Browser      string `json:"browser"`
	VisitorClass string `json:"visitor_class"`
	Referrer     string `json:"referrer"`
	ReferrerName string `json:"referrer_name"`

	TotalSessions      int64   `json:"total_sessions"`
	TotalPageViews     int64   `json:"total_page_views"`
	EngagementDuration float64 `json:"engagement_duration"`
	EngagedSessions    int64   `json:"engaged_sessions"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	BounceRate         float64 `json:"bounce_rate"`

	UniqueDays int    `json:"unique_days"`
	FirstVisit string `json:"first_visit"`
	LastVisit  string `json:"last_visit"`
	RowCount   int    `json:"row_count"`
}

var powerUserDimensions = []string{
	gadata.DimCountry,
	gadata.DimRegion,
	gadata.DimCity,
	gadata.DimBrowser,
	gadata.DimNewVsReturning,
	gadata.DimSessionSource,
	gadata.DimDate,
}

var powerUserMetrics = []string{
	gadata.MetricSessions,
	gadata.MetricPageViews,
	gadata.MetricAvgSessionDuration,
	gadata.MetricUserEngagementSeconds,
	gadata.MetricEngagedSessions,
	gadata.MetricBounceRate,
}

type powerUserKey struct {
	stable       visitors.StableKey
	visitorClass string
	referrer     string
}

type powerUserAccumulator struct {
	key            powerUserKey
	sessions       int64
	pageViews      int64
	engaged        int64
	engaging       float64
	bounceSessions int64
	averages       []float64
	days           map[string]struct{}
	first, last    string
}

// ListPowerUsers returns inferred visitors whose total sessions over the range
// reach minSessions, most sessions first. A minSessions of zero or less uses
// the configured default.
func (e *Engine) ListPowerUsers(ctx context.Context, r timeframe.Range, minSessions int) ([]PowerUserRecord, error) {
	defer observe("power_users", time.Now())

	if minSessions <= 0 {
		minSessions = e.opts.PowerUserMinSessions
	}

	q := gadata.Query{
		Name:       QueryPowerUsers,
		DateRange:  r,
		Dimensions: powerUserDimensions,
		Metrics:    powerUserMetrics,
		Limit:      e.opts.PrimaryRowLimit,
	}
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list power users: %w", err)
	}

	return classifyPowerUsers(gadata.NewColumns(q), rows, int64(minSessions)), nil
}

func classifyPowerUsers(cols gadata.Columns, rows []gadata.Row, minSessions int64) []PowerUserRecord {
	byKey := make(map[powerUserKey]*powerUserAccumulator)
	for _, row := range rows {
		key := powerUserKey{
			stable: visitors.NewStableKey(
				cols.Dim(row, gadata.DimCountry),
				cols.Dim(row, gadata.DimRegion),
				cols.Dim(row, gadata.DimCity),
				cols.Dim(row, gadata.DimBrowser),
			),
			visitorClass: cols.Dim(row, gadata.DimNewVsReturning),
			referrer:     visitors.OrNone(cols.Dim(row, gadata.DimSessionSource)),
		}

		acc, ok := byKey[key]
		if !ok {
			acc = &powerUserAccumulator{key: key, days: make(map[string]struct{})}
			byKey[key] = acc
		}

		sessions := count(cols.Metric(row, gadata.MetricSessions))
		acc.sessions += sessions
		acc.pageViews += count(cols.Metric(row, gadata.MetricPageViews))
		acc.engaged += count(cols.Metric(row, gadata.MetricEngagedSessions))
		acc.engaging += cols.Metric(row, gadata.MetricUserEngagementSeconds)
		acc.bounceSessions += int64(math.Round(float64(sessions) * clampUnit(cols.Metric(row, gadata.MetricBounceRate))))
		acc.averages = append(acc.averages, cols.Metric(row, gadata.MetricAvgSessionDuration))

		if date := cols.Dim(row, gadata.DimDate); date != "" {
			acc.days[date] = struct{}{}
			if acc.first == "" || date < acc.first {
				acc.first = date
			}
			if date > acc.last {
				acc.last = date
			}
		}
	}

	records := make([]PowerUserRecord, 0, len(byKey))
	for _, acc := range byKey {
		if acc.sessions < minSessions {
			continue
		}
		records = append(records, acc.finish())
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].TotalSessions != records[j].TotalSessions {
			return records[i].TotalSessions > records[j].TotalSessions
		}
		if records[i].ID != records[j].ID {
			return records[i].ID < records[j].ID
		}
		if records[i].VisitorClass != records[j].VisitorClass {
			return records[i].VisitorClass < records[j].VisitorClass
		}
		return records[i].Referrer < records[j].Referrer
	})
	return records
}

func (a *powerUserAccumulator) finish() PowerUserRecord {
	engaged := a.engaged
	if engaged > a.sessions {
		engaged = a.sessions
	}
	var bounce float64
	if a.sessions > 0 {
		bounce = clampUnit(float64(a.bounceSessions) / float64(a.sessions))
	}

	return PowerUserRecord{
		ID:                 visitors.Fingerprint(a.key.stable),
		Alias:              visitors.Alias(a.key.stable),
		Country:            a.key.stable.Country,
		Region:             a.key.stable.Region,
		City:               a.key.stable.City,
		Browser:            a.key.stable.Browser,
		VisitorClass:       a.key.visitorClass,
		Referrer:           a.key.referrer,
		ReferrerName:       referrers.DisplayName(a.key.referrer),
		TotalSessions:      a.sessions,
		TotalPageViews:     a.pageViews,
		EngagementDuration: a.engaging,
		EngagedSessions:    engaged,
		AvgSessionDuration: MeanDuration(a.averages),
		BounceRate:         bounce,
		UniqueDays:         len(a.days),
		FirstVisit:         timeframe.CompactDate(a.first),
		LastVisit:          timeframe.CompactDate(a.last),
		RowCount:           len(a.averages),
	}
}
