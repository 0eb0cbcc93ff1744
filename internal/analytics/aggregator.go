package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"visitorlens/internal/gadata"
	"visitorlens/internal/timeframe"
	"visitorlens/internal/visitors"
)

// VisitorRecord is one inferred visitor: every row of the result set sharing
// the same stable key, folded together.
type VisitorRecord struct {
	Key   string `json:"key"`
	ID    string `json:"id"`
	Alias string `json:"alias"`

	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Browser string `json:"browser"`

	LastSeenDate string `json:"last_seen_date"`
	LastSeenHour string `json:"last_seen_hour"`
	LandingPage  string `json:"landing_page"`
	Referrer     string `json:"referrer"`
	VisitorClass string `json:"visitor_class"`

	Sessions           int64   `json:"sessions"`
	PageViews          int64   `json:"page_views"`
	EngagementDuration float64 `json:"engagement_duration"`
	EngagedSessions    int64   `json:"engaged_sessions"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	BounceRate         float64 `json:"bounce_rate"`
	RowCount           int     `json:"row_count"`

	lastSeen landingKey
}

// VisitorList is the result of ListVisitors.
type VisitorList struct {
	Visitors []VisitorRecord `json:"visitors"`
	// Degraded names optional passes that failed and were skipped.
	Degraded []string `json:"degraded"`
}

var visitorDimensions = []string{
	gadata.DimDate,
	gadata.DimHour,
	gadata.DimLandingPage,
	gadata.DimBrowser,
	gadata.DimCountry,
	gadata.DimRegion,
	gadata.DimCity,
	gadata.DimNewVsReturning,
	gadata.DimSessionSource,
}

var visitorMetrics = []string{
	gadata.MetricSessions,
	gadata.MetricPageViews,
	gadata.MetricAvgSessionDuration,
	gadata.MetricUserEngagementSeconds,
	gadata.MetricEngagedSessions,
	gadata.MetricBounceRate,
	gadata.MetricActiveUsers,
}

// QueryVisitors is the name of the primary visitor list query.
const QueryVisitors = "visitors"

func (e *Engine) visitorsQuery(r timeframe.Range) gadata.Query {
	return gadata.Query{
		Name:       QueryVisitors,
		DateRange:  r,
		Dimensions: visitorDimensions,
		Metrics:    visitorMetrics,
		OrderBys:   []gadata.OrderBy{gadata.DescDimension(gadata.DimDate), gadata.DescDimension(gadata.DimHour)},
		Limit:      e.opts.PrimaryRowLimit,
	}
}

// ListVisitors returns up to limit inferred visitors, most recently seen first.
// A limit of zero or less uses the default; limits above the maximum are capped.
func (e *Engine) ListVisitors(ctx context.Context, r timeframe.Range, limit int) (*VisitorList, error) {
	defer observe("list_visitors", time.Now())

	q := e.visitorsQuery(r)
	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}

	records := aggregateVisitors(gadata.NewColumns(q), rows)
	if limit = e.clampLimit(limit); len(records) > limit {
		records = records[:limit]
	}

	list := &VisitorList{Visitors: records, Degraded: []string{}}
	if err := e.reconcileLandingPages(ctx, r, list.Visitors); err != nil {
		if err := e.absorb(QueryLandingPages, err); err != nil {
			return nil, fmt.Errorf("list visitors: %w", err)
		}
		list.Degraded = append(list.Degraded, QueryLandingPages)
	}
	return list, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		limit = e.opts.DefaultVisitorLimit
	}
	if limit > e.opts.MaxVisitorLimit {
		limit = e.opts.MaxVisitorLimit
	}
	return limit
}

// visitorRow is one source row read by column name.
type visitorRow struct {
	date, hour, landingPage, browser string
	country, region, city            string
	visitorClass, referrer           string
	sessions, pageViews, engaged     int64
	avgDuration, engagement          float64
}

func readVisitorRow(cols gadata.Columns, row gadata.Row) visitorRow {
	return visitorRow{
		date:         cols.Dim(row, gadata.DimDate),
		hour:         cols.Dim(row, gadata.DimHour),
		landingPage:  cols.Dim(row, gadata.DimLandingPage),
		browser:      cols.Dim(row, gadata.DimBrowser),
		country:      cols.Dim(row, gadata.DimCountry),
		region:       cols.Dim(row, gadata.DimRegion),
		city:         cols.Dim(row, gadata.DimCity),
		visitorClass: cols.Dim(row, gadata.DimNewVsReturning),
		referrer:     cols.Dim(row, gadata.DimSessionSource),
		sessions:     count(cols.Metric(row, gadata.MetricSessions)),
		pageViews:    count(cols.Metric(row, gadata.MetricPageViews)),
		engaged:      count(cols.Metric(row, gadata.MetricEngagedSessions)),
		avgDuration:  cols.Metric(row, gadata.MetricAvgSessionDuration),
		engagement:   cols.Metric(row, gadata.MetricUserEngagementSeconds),
	}
}

type visitorAccumulator struct {
	stable    visitors.StableKey
	latest    visitorRow
	recency   string
	rowIndex  int
	sessions  int64
	pageViews int64
	engaged   int64
	engaging  float64
	averages  []float64
}

func (a *visitorAccumulator) add(row visitorRow, index int) {
	// Strictly greater: ties keep the earlier row.
	if recency := visitors.RecencyKey(row.date, row.hour); len(a.averages) == 0 || recency > a.recency {
		a.latest = row
		a.recency = recency
		a.rowIndex = index
	}

	a.sessions += row.sessions
	a.pageViews += row.pageViews
	a.engaged += row.engaged
	a.engaging += row.engagement
	a.averages = append(a.averages, row.avgDuration)
}

func (a *visitorAccumulator) finish() VisitorRecord {
	engaged := a.engaged
	if engaged > a.sessions {
		engaged = a.sessions
	}

	key := visitors.IdentityKey{
		Date:         a.latest.date,
		Hour:         a.latest.hour,
		LandingPage:  a.latest.landingPage,
		Browser:      a.stable.Browser,
		Country:      a.stable.Country,
		Region:       a.stable.Region,
		City:         a.stable.City,
		VisitorClass: a.latest.visitorClass,
		Referrer:     a.latest.referrer,
		RowIndex:     a.rowIndex,
	}

	lastSeen := newLandingKey(a.latest.date, a.latest.hour, a.stable.Browser, a.stable.Country,
		a.stable.Region, a.stable.City, a.latest.visitorClass, a.latest.referrer)

	return VisitorRecord{
		Key:                key.Encode(),
		ID:                 visitors.Fingerprint(a.stable),
		Alias:              visitors.Alias(a.stable),
		Country:            a.stable.Country,
		Region:             a.stable.Region,
		City:               a.stable.City,
		Browser:            a.stable.Browser,
		LastSeenDate:       timeframe.CompactDate(a.latest.date),
		LastSeenHour:       a.latest.hour,
		LandingPage:        landingPageOrEmpty(a.latest.landingPage),
		Referrer:           a.latest.referrer,
		VisitorClass:       a.latest.visitorClass,
		Sessions:           a.sessions,
		PageViews:          a.pageViews,
		EngagementDuration: a.engaging,
		EngagedSessions:    engaged,
		AvgSessionDuration: MeanDuration(a.averages),
		BounceRate:         BounceRate(a.sessions, engaged),
		RowCount:           len(a.averages),
		lastSeen:           lastSeen,
	}
}

// aggregateVisitors folds rows into one record per stable key in a single
// pass, then orders records by last-seen date and hour, most recent first.
func aggregateVisitors(cols gadata.Columns, rows []gadata.Row) []VisitorRecord {
	byKey := make(map[visitors.StableKey]*visitorAccumulator)
	for i, raw := range rows {
		row := readVisitorRow(cols, raw)
		stable := visitors.NewStableKey(row.country, row.region, row.city, row.browser)

		acc, ok := byKey[stable]
		if !ok {
			acc = &visitorAccumulator{stable: stable}
			byKey[stable] = acc
		}
		acc.add(row, i)
	}

	accs := make([]*visitorAccumulator, 0, len(byKey))
	for _, acc := range byKey {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].recency != accs[j].recency {
			return accs[i].recency > accs[j].recency
		}
		return accs[i].stable.String() < accs[j].stable.String()
	})

	records := make([]VisitorRecord, len(accs))
	for i, acc := range accs {
		records[i] = acc.finish()
	}
	return records
}

// landingPageOrEmpty maps the source's "(not set)" placeholder to empty.
func landingPageOrEmpty(path string) string {
	if path == notSet {
		return ""
	}
	return path
}

const notSet = "(not set)"
