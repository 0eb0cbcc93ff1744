package analytics

import (
	"context"

	"visitorlens/internal/gadata"
	"visitorlens/internal/timeframe"
	"visitorlens/internal/visitors"
)

// QueryLandingPages is the name of the landing page reconciliation query.
const QueryLandingPages = "landing_pages"

// The reconciliation query swaps landingPage for pagePath. Together with the
// remaining eight dimensions this uses the whole field budget.
var landingPageDimensions = []string{
	gadata.DimDate,
	gadata.DimHour,
	gadata.DimBrowser,
	gadata.DimCountry,
	gadata.DimRegion,
	gadata.DimCity,
	gadata.DimNewVsReturning,
	gadata.DimSessionSource,
	gadata.DimPagePath,
}

// landingKey identifies an observation without its page.
type landingKey struct {
	date, hour, browser, country, region, city, visitorClass, referrer string
}

func newLandingKey(date, hour, browser, country, region, city, visitorClass, referrer string) landingKey {
	return landingKey{
		date:         date,
		hour:         hour,
		browser:      browser,
		country:      country,
		region:       visitors.OrNone(region),
		city:         visitors.OrNone(city),
		visitorClass: visitorClass,
		referrer:     visitors.OrNone(referrer),
	}
}

// reconcileLandingPages fills the landing page of records that have none with
// the earliest page path observed for the same last-seen observation. Records
// that already have a landing page are never touched.
func (e *Engine) reconcileLandingPages(ctx context.Context, r timeframe.Range, records []VisitorRecord) error {
	missing := false
	for i := range records {
		if records[i].LandingPage == "" {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	q := gadata.Query{
		Name:       QueryLandingPages,
		DateRange:  r,
		Dimensions: landingPageDimensions,
		Metrics:    []string{gadata.MetricSessions},
		OrderBys:   []gadata.OrderBy{gadata.AscDimension(gadata.DimDate), gadata.AscDimension(gadata.DimHour)},
		Limit:      e.opts.ReconcileRowLimit,
	}
	rows, err := e.query(ctx, q)
	if err != nil {
		return err
	}

	earliest := earliestPages(gadata.NewColumns(q), rows)
	for i := range records {
		if records[i].LandingPage != "" {
			continue
		}
		if path, ok := earliest[records[i].lastSeen]; ok {
			records[i].LandingPage = path
		}
	}
	return nil
}

// earliestPages keeps the first usable page path per key. Rows arrive in
// ascending time order, so later duplicates never overwrite.
func earliestPages(cols gadata.Columns, rows []gadata.Row) map[landingKey]string {
	earliest := make(map[landingKey]string, len(rows))
	for _, row := range rows {
		path := landingPageOrEmpty(cols.Dim(row, gadata.DimPagePath))
		if path == "" {
			continue
		}
		key := newLandingKey(
			cols.Dim(row, gadata.DimDate),
			cols.Dim(row, gadata.DimHour),
			cols.Dim(row, gadata.DimBrowser),
			cols.Dim(row, gadata.DimCountry),
			cols.Dim(row, gadata.DimRegion),
			cols.Dim(row, gadata.DimCity),
			cols.Dim(row, gadata.DimNewVsReturning),
			cols.Dim(row, gadata.DimSessionSource),
		)
		if _, seen := earliest[key]; !seen {
			earliest[key] = path
		}
	}
	return earliest
}
