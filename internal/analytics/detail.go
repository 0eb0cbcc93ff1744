package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"visitorlens/internal/gadata"
	"visitorlens/internal/pkg/async"
	"visitorlens/internal/pkg/referrers"
	"visitorlens/internal/timeframe"
	"visitorlens/internal/visitors"
)

// Sub-query names used by GetVisitorDetail.
const (
	QueryDetailSessions       = "detail.sessions"
	QueryDetailDeviceFull     = "detail.device.full"
	QueryDetailDeviceDesktop  = "detail.device.desktop"
	QueryDetailPageviews      = "detail.pageviews"
	QueryDetailScrollExact    = "detail.scroll.exact"
	QueryDetailScrollContains = "detail.scroll.contains"
	QueryDetailClicks         = "detail.clicks"
	QueryDetailEvents         = "detail.events"
)

// Sub-report names, used in Sources and Degraded.
const (
	SubreportSessions  = "sessions"
	SubreportDevice    = "device"
	SubreportPageviews = "pageviews"
	SubreportScroll    = "scroll"
	SubreportClicks    = "clicks"
	SubreportEvents    = "events"
)

const sourceOK = "ok"

// VisitorDetail expands one inferred visitor into sessions, pages and events.
type VisitorDetail struct {
	Key               string   `json:"key"`
	ID                string   `json:"id"`
	Alias             string   `json:"alias"`
	Browser           string   `json:"browser"`
	VisitorClass      string   `json:"visitor_class"`
	Referrer          string   `json:"referrer"`
	ReferrerName      string   `json:"referrer_name"`
	Location          Location `json:"location"`
	LastSeen          string   `json:"last_seen"`
	ActualLandingPage string   `json:"actual_landing_page"`

	Sessions   []SessionEntry `json:"sessions"`
	Devices    []DeviceEntry  `json:"devices"`
	PageVisits []PageVisit    `json:"page_visits"`
	Clicks     []ClickEntry   `json:"clicks"`
	Events     []EventEntry   `json:"events"`
	Summary    DetailSummary  `json:"summary"`

	// Sources records which variant produced each sub-report.
	Sources map[string]string `json:"sources"`
	// Degraded lists optional sub-reports that failed and were left empty.
	Degraded []string `json:"degraded"`
}

type Location struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
}

type SessionEntry struct {
	Source             string  `json:"source"`
	Medium             string  `json:"medium"`
	DeviceCategory     string  `json:"device_category"`
	City               string  `json:"city"`
	Sessions           int64   `json:"sessions"`
	EngagedSessions    int64   `json:"engaged_sessions"`
	PageViews          int64   `json:"page_views"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	EngagementDuration float64 `json:"engagement_duration"`
}

// DeviceEntry holds whichever technical fields the winning device variant
// returned; the others stay empty.
type DeviceEntry struct {
	Category         string `json:"category"`
	OperatingSystem  string `json:"operating_system"`
	OSVersion        string `json:"os_version,omitempty"`
	Brand            string `json:"brand,omitempty"`
	Model            string `json:"model,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Sessions         int64  `json:"sessions"`
}

type PageVisit struct {
	Path        string   `json:"path"`
	Title       string   `json:"title"`
	Timestamp   string   `json:"timestamp"`
	Views       int64    `json:"views"`
	TimeOnPage  float64  `json:"time_on_page"`
	ScrollDepth float64  `json:"scroll_depth"`
	Clicks      int64    `json:"clicks"`
	Events      []string `json:"events"`
}

type ClickEntry struct {
	Page     string `json:"page"`
	LinkURL  string `json:"link_url"`
	LinkText string `json:"link_text"`
	Count    int64  `json:"count"`
}

type EventEntry struct {
	Name      string `json:"name"`
	Page      string `json:"page"`
	Timestamp string `json:"timestamp"`
	Count     int64  `json:"count"`
}

type DetailSummary struct {
	TotalSessions      int64   `json:"total_sessions"`
	TotalPageViews     int64   `json:"total_page_views"`
	TotalEvents        int64   `json:"total_events"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

type subResult struct {
	variant string
	query   gadata.Query
	rows    []gadata.Row
}

type pageviewResult struct {
	subResult
	scroll    map[string]float64
	scrollSrc string
	scrollErr error
}

// detailFilters restricts sub-queries to the highest-signal fields of the key.
// At most five filters are used so every sub-query fits the field budget.
func detailFilters(key visitors.IdentityKey) []gadata.Filter {
	filters := []gadata.Filter{
		gadata.Exact(gadata.DimDate, key.Date),
		gadata.Exact(gadata.DimHour, key.Hour),
	}
	if key.HasLandingPage() {
		filters = append(filters, gadata.Exact(gadata.DimLandingPage, key.LandingPage))
	}
	return append(filters,
		gadata.Exact(gadata.DimCountry, key.Country),
		gadata.Exact(gadata.DimNewVsReturning, key.VisitorClass),
	)
}

func withFilters(base []gadata.Filter, extra ...gadata.Filter) []gadata.Filter {
	out := make([]gadata.Filter, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// GetVisitorDetail decodes an identity key and expands it into a timeline.
// Only a malformed key, an unavailable source, a failed sessions query or a
// contract violation fail the call; every other sub-report degrades to empty.
func (e *Engine) GetVisitorDetail(ctx context.Context, encodedKey string, r timeframe.Range) (*VisitorDetail, error) {
	defer observe("visitor_detail", time.Now())

	key, err := visitors.DecodeIdentityKey(encodedKey)
	if err != nil {
		return nil, err
	}
	if e.runner == nil {
		return nil, gadata.ErrAdapterUnavailable
	}

	filters := detailFilters(key)

	tasks := []async.Task{
		{
			Name: SubreportSessions,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.detailSessions(ctx, r, filters)
			},
		},
		{
			Name: SubreportDevice,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.detailDevices(ctx, r, filters)
			},
		},
		{
			Name: SubreportPageviews,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.detailPageviews(ctx, r, filters)
			},
		},
		{
			Name: SubreportClicks,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.detailSimple(ctx, gadata.Query{
					Name:       QueryDetailClicks,
					DateRange:  r,
					Dimensions: []string{gadata.DimPagePath, gadata.DimLinkURL, gadata.DimLinkText},
					Metrics:    []string{gadata.MetricEventCount},
					Filters:    withFilters(filters, gadata.Exact(gadata.DimEventName, "click")),
					OrderBys:   []gadata.OrderBy{gadata.DescMetric(gadata.MetricEventCount)},
					Limit:      e.opts.DetailRowLimit,
				})
			},
		},
		{
			Name: SubreportEvents,
			Execute: func(ctx context.Context) (interface{}, error) {
				return e.detailSimple(ctx, gadata.Query{
					Name:       QueryDetailEvents,
					DateRange:  r,
					Dimensions: []string{gadata.DimEventName, gadata.DimPagePath, gadata.DimDate, gadata.DimHour},
					Metrics:    []string{gadata.MetricEventCount},
					Filters:    filters,
					OrderBys:   []gadata.OrderBy{gadata.AscDimension(gadata.DimDate), gadata.AscDimension(gadata.DimHour)},
					Limit:      e.opts.DetailRowLimit,
				})
			},
		},
	}

	results := async.NewPool(e.opts.DetailWorkers).Execute(ctx, tasks)

	detail := e.newDetail(encodedKey, key)

	// The sessions query is the primary one; its failure fails the call.
	sessions := results[SubreportSessions]
	if sessions.Err != nil {
		return nil, fmt.Errorf("visitor detail: %w", sessions.Err)
	}
	detail.Sessions = buildSessions(sessions.Data.(subResult))
	detail.Sources[SubreportSessions] = sourceOK

	for _, name := range []string{SubreportDevice, SubreportPageviews, SubreportClicks, SubreportEvents} {
		if err := results[name].Err; err != nil {
			if err := e.absorb(name, err); err != nil {
				return nil, fmt.Errorf("visitor detail: %w", err)
			}
			detail.Degraded = append(detail.Degraded, name)
			detail.Sources[name] = VariantFailed
		}
	}

	if res := results[SubreportDevice]; res.Err == nil {
		sub := res.Data.(subResult)
		detail.Devices = buildDevices(sub)
		detail.Sources[SubreportDevice] = sub.variant
	}

	clicksByPage := map[string]int64{}
	if res := results[SubreportClicks]; res.Err == nil {
		detail.Clicks, clicksByPage = buildClicks(res.Data.(subResult))
		detail.Sources[SubreportClicks] = sourceOK
	}

	eventsByPage := map[string][]string{}
	if res := results[SubreportEvents]; res.Err == nil {
		detail.Events, eventsByPage = buildEvents(res.Data.(subResult))
		detail.Sources[SubreportEvents] = sourceOK
	}

	if res := results[SubreportPageviews]; res.Err == nil {
		pv := res.Data.(pageviewResult)
		detail.PageVisits = buildPageVisits(pv, clicksByPage, eventsByPage)
		detail.Sources[SubreportPageviews] = sourceOK
		if len(detail.PageVisits) > 0 {
			detail.ActualLandingPage = detail.PageVisits[0].Path
		}

		detail.Sources[SubreportScroll] = pv.scrollSrc
		if pv.scrollErr != nil {
			if err := e.absorb(SubreportScroll, pv.scrollErr); err != nil {
				return nil, fmt.Errorf("visitor detail: %w", err)
			}
			detail.Degraded = append(detail.Degraded, SubreportScroll)
		}
	} else {
		detail.Sources[SubreportScroll] = VariantSkipped
	}

	detail.Summary = summarize(detail)
	sort.Strings(detail.Degraded)
	return detail, nil
}

func (e *Engine) newDetail(encodedKey string, key visitors.IdentityKey) *VisitorDetail {
	stable := key.Stable()
	caser := cases.Title(language.AmericanEnglish)

	location := Location{Country: key.Country, Region: key.Region, City: key.City}
	if country, err := e.countries.FindCountryByName(key.Country); err == nil {
		location.CountryCode = country.Codes.Alpha2
	}

	detail := &VisitorDetail{
		Key:          encodedKey,
		ID:           visitors.Fingerprint(stable),
		Alias:        visitors.Alias(stable),
		Browser:      key.Browser,
		VisitorClass: caser.String(key.VisitorClass),
		Referrer:     key.Referrer,
		ReferrerName: referrers.DisplayName(key.Referrer),
		Location:     location,
		Sessions:     []SessionEntry{},
		Devices:      []DeviceEntry{},
		PageVisits:   []PageVisit{},
		Clicks:       []ClickEntry{},
		Events:       []EventEntry{},
		Sources:      map[string]string{},
		Degraded:     []string{},
	}
	if ts, ok := timeframe.HourTimestamp(key.Date, key.Hour); ok {
		detail.LastSeen = ts.Format(time.RFC3339)
	}
	return detail
}

func (e *Engine) detailSimple(ctx context.Context, q gadata.Query) (subResult, error) {
	rows, err := e.query(ctx, q)
	if err != nil {
		return subResult{}, err
	}
	return subResult{variant: sourceOK, query: q, rows: rows}, nil
}

func (e *Engine) detailSessions(ctx context.Context, r timeframe.Range, filters []gadata.Filter) (subResult, error) {
	return e.detailSimple(ctx, gadata.Query{
		Name:       QueryDetailSessions,
		DateRange:  r,
		Dimensions: []string{gadata.DimSessionSource, gadata.DimSessionMedium, gadata.DimDeviceCategory, gadata.DimCity},
		Metrics: []string{
			gadata.MetricSessions,
			gadata.MetricEngagedSessions,
			gadata.MetricPageViews,
			gadata.MetricAvgSessionDuration,
			gadata.MetricUserEngagementSeconds,
		},
		Filters:  filters,
		OrderBys: []gadata.OrderBy{gadata.DescMetric(gadata.MetricSessions)},
		Limit:    e.opts.DetailRowLimit,
	})
}

// detailDevices asks for mobile-only fields first and falls back to fields
// every device class populates.
func (e *Engine) detailDevices(ctx context.Context, r timeframe.Range, filters []gadata.Filter) (subResult, error) {
	device := func(name string, dims ...string) Variant {
		return Variant{Name: name, Query: gadata.Query{
			Name:       "detail.device." + name,
			DateRange:  r,
			Dimensions: dims,
			Metrics:    []string{gadata.MetricSessions},
			Filters:    filters,
			OrderBys:   []gadata.OrderBy{gadata.DescMetric(gadata.MetricSessions)},
			Limit:      e.opts.DetailRowLimit,
		}}
	}

	res, err := e.runVariants(ctx, SubreportDevice, []Variant{
		device("full", gadata.DimDeviceCategory, gadata.DimOperatingSystem, gadata.DimMobileBrand, gadata.DimMobileModel),
		device("desktop", gadata.DimDeviceCategory, gadata.DimOperatingSystem, gadata.DimOSVersion, gadata.DimScreenResolution),
	})
	if err != nil {
		return subResult{}, err
	}
	return subResult{variant: res.Variant, query: res.Query, rows: res.Rows}, nil
}

// detailPageviews fetches page views earliest first, then the scroll depth of
// the pages it found.
func (e *Engine) detailPageviews(ctx context.Context, r timeframe.Range, filters []gadata.Filter) (pageviewResult, error) {
	pv, err := e.detailSimple(ctx, gadata.Query{
		Name:       QueryDetailPageviews,
		DateRange:  r,
		Dimensions: []string{gadata.DimPagePath, gadata.DimPageTitle, gadata.DimDate, gadata.DimHour},
		Metrics:    []string{gadata.MetricPageViews, gadata.MetricUserEngagementSeconds},
		Filters:    filters,
		OrderBys:   []gadata.OrderBy{gadata.AscDimension(gadata.DimDate), gadata.AscDimension(gadata.DimHour)},
		Limit:      e.opts.DetailRowLimit,
	})
	if err != nil {
		return pageviewResult{}, err
	}

	result := pageviewResult{subResult: pv, scroll: map[string]float64{}, scrollSrc: VariantSkipped}

	paths := distinctPaths(pv)
	if len(paths) == 0 {
		return result, nil
	}

	scroll := func(name string, eventFilter gadata.Filter) Variant {
		return Variant{Name: name, Query: gadata.Query{
			Name:       "detail.scroll." + name,
			DateRange:  r,
			Dimensions: []string{gadata.DimPagePath, gadata.DimPercentScrolled},
			Metrics:    []string{gadata.MetricEventCount},
			Filters:    withFilters(filters, gadata.InList(gadata.DimPagePath, paths), eventFilter),
			Limit:      e.opts.DetailRowLimit,
		}}
	}

	res, err := e.runVariants(ctx, SubreportScroll, []Variant{
		scroll("exact", gadata.Exact(gadata.DimEventName, "scroll")),
		scroll("contains", gadata.Contains(gadata.DimEventName, "scroll")),
	})
	result.scrollSrc = res.Variant
	if err != nil {
		result.scrollErr = err
		return result, nil
	}
	result.scroll = maxScrollDepth(res)
	return result, nil
}

func distinctPaths(pv subResult) []string {
	cols := gadata.NewColumns(pv.query)
	seen := make(map[string]bool)
	var paths []string
	for _, row := range pv.rows {
		path := cols.Dim(row, gadata.DimPagePath)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}

// maxScrollDepth keeps the highest positive percentage per page.
func maxScrollDepth(res variantResult) map[string]float64 {
	cols := gadata.NewColumns(res.Query)
	depth := make(map[string]float64)
	for _, row := range res.Rows {
		pct, err := strconv.ParseFloat(cols.Dim(row, gadata.DimPercentScrolled), 64)
		if err != nil || pct <= 0 {
			continue
		}
		path := cols.Dim(row, gadata.DimPagePath)
		if pct > depth[path] {
			depth[path] = pct
		}
	}
	return depth
}

func buildSessions(sub subResult) []SessionEntry {
	cols := gadata.NewColumns(sub.query)
	caser := cases.Title(language.AmericanEnglish)
	entries := make([]SessionEntry, 0, len(sub.rows))
	for _, row := range sub.rows {
		sessions := count(cols.Metric(row, gadata.MetricSessions))
		engaged := count(cols.Metric(row, gadata.MetricEngagedSessions))
		if engaged > sessions {
			engaged = sessions
		}
		entries = append(entries, SessionEntry{
			Source:             cols.Dim(row, gadata.DimSessionSource),
			Medium:             cols.Dim(row, gadata.DimSessionMedium),
			DeviceCategory:     caser.String(cols.Dim(row, gadata.DimDeviceCategory)),
			City:               cols.Dim(row, gadata.DimCity),
			Sessions:           sessions,
			EngagedSessions:    engaged,
			PageViews:          count(cols.Metric(row, gadata.MetricPageViews)),
			AvgSessionDuration: cols.Metric(row, gadata.MetricAvgSessionDuration),
			EngagementDuration: cols.Metric(row, gadata.MetricUserEngagementSeconds),
		})
	}
	return entries
}

func buildDevices(sub subResult) []DeviceEntry {
	cols := gadata.NewColumns(sub.query)
	caser := cases.Title(language.AmericanEnglish)
	entries := make([]DeviceEntry, 0, len(sub.rows))
	for _, row := range sub.rows {
		entries = append(entries, DeviceEntry{
			Category:         caser.String(cols.Dim(row, gadata.DimDeviceCategory)),
			OperatingSystem:  cols.Dim(row, gadata.DimOperatingSystem),
			OSVersion:        cols.Dim(row, gadata.DimOSVersion),
			Brand:            cols.Dim(row, gadata.DimMobileBrand),
			Model:            cols.Dim(row, gadata.DimMobileModel),
			ScreenResolution: cols.Dim(row, gadata.DimScreenResolution),
			Sessions:         count(cols.Metric(row, gadata.MetricSessions)),
		})
	}
	return entries
}

func buildClicks(sub subResult) ([]ClickEntry, map[string]int64) {
	cols := gadata.NewColumns(sub.query)
	entries := make([]ClickEntry, 0, len(sub.rows))
	byPage := make(map[string]int64)
	for _, row := range sub.rows {
		entry := ClickEntry{
			Page:     cols.Dim(row, gadata.DimPagePath),
			LinkURL:  cols.Dim(row, gadata.DimLinkURL),
			LinkText: cols.Dim(row, gadata.DimLinkText),
			Count:    count(cols.Metric(row, gadata.MetricEventCount)),
		}
		byPage[entry.Page] += entry.Count
		entries = append(entries, entry)
	}
	return entries, byPage
}

func buildEvents(sub subResult) ([]EventEntry, map[string][]string) {
	cols := gadata.NewColumns(sub.query)
	entries := make([]EventEntry, 0, len(sub.rows))
	names := make(map[string]map[string]bool)
	for _, row := range sub.rows {
		entry := EventEntry{
			Name:  cols.Dim(row, gadata.DimEventName),
			Page:  cols.Dim(row, gadata.DimPagePath),
			Count: count(cols.Metric(row, gadata.MetricEventCount)),
		}
		if ts, ok := timeframe.HourTimestamp(cols.Dim(row, gadata.DimDate), cols.Dim(row, gadata.DimHour)); ok {
			entry.Timestamp = ts.Format(time.RFC3339)
		}
		entries = append(entries, entry)

		if names[entry.Page] == nil {
			names[entry.Page] = make(map[string]bool)
		}
		names[entry.Page][entry.Name] = true
	}

	byPage := make(map[string][]string, len(names))
	for page, set := range names {
		list := make([]string, 0, len(set))
		for name := range set {
			list = append(list, name)
		}
		sort.Strings(list)
		byPage[page] = list
	}
	return entries, byPage
}

func buildPageVisits(pv pageviewResult, clicks map[string]int64, events map[string][]string) []PageVisit {
	cols := gadata.NewColumns(pv.query)
	visits := make([]PageVisit, 0, len(pv.rows))
	for _, row := range pv.rows {
		path := cols.Dim(row, gadata.DimPagePath)
		views := count(cols.Metric(row, gadata.MetricPageViews))

		visit := PageVisit{
			Path:        path,
			Title:       cols.Dim(row, gadata.DimPageTitle),
			Views:       views,
			TimeOnPage:  perView(cols.Metric(row, gadata.MetricUserEngagementSeconds), views),
			ScrollDepth: pv.scroll[path],
			Clicks:      clicks[path],
			Events:      events[path],
		}
		if visit.Events == nil {
			visit.Events = []string{}
		}
		if ts, ok := timeframe.HourTimestamp(cols.Dim(row, gadata.DimDate), cols.Dim(row, gadata.DimHour)); ok {
			visit.Timestamp = ts.Format(time.RFC3339)
		}
		visits = append(visits, visit)
	}
	return visits
}

func summarize(d *VisitorDetail) DetailSummary {
	var s DetailSummary
	averages := make([]float64, 0, len(d.Sessions))
	for _, session := range d.Sessions {
		s.TotalSessions += session.Sessions
		averages = append(averages, session.AvgSessionDuration)
	}
	for _, visit := range d.PageVisits {
		s.TotalPageViews += visit.Views
	}
	for _, event := range d.Events {
		s.TotalEvents += event.Count
	}
	s.AvgSessionDuration = MeanDuration(averages)
	return s
}
