package analytics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/analytics"
	"visitorlens/internal/config"
	"visitorlens/internal/gadata"
	"visitorlens/internal/testsupport"
	"visitorlens/internal/visitors"
)

var detailKey = visitors.IdentityKey{
	Date:         "20240301",
	Hour:         "14",
	LandingPage:  "/pricing",
	Browser:      "Chrome",
	Country:      "United States",
	Region:       "California",
	City:         "San Francisco",
	VisitorClass: "returning",
	Referrer:     "google",
	RowIndex:     3,
}

func rec(dims map[string]string, metrics map[string]float64) testsupport.Record {
	return testsupport.Record{Dims: dims, Metrics: metrics}
}

// detailStub answers every detail sub-query with canned data.
func detailStub() *testsupport.StubRunner {
	return testsupport.NewStubRunner().
		OnRecords(analytics.QueryDetailSessions,
			rec(map[string]string{gadata.DimSessionSource: "google", gadata.DimSessionMedium: "organic", gadata.DimDeviceCategory: "mobile", gadata.DimCity: "San Francisco"},
				map[string]float64{gadata.MetricSessions: 2, gadata.MetricEngagedSessions: 1, gadata.MetricPageViews: 5, gadata.MetricAvgSessionDuration: 40}),
			rec(map[string]string{gadata.DimSessionSource: "google", gadata.DimSessionMedium: "cpc", gadata.DimDeviceCategory: "desktop", gadata.DimCity: "San Francisco"},
				map[string]float64{gadata.MetricSessions: 1, gadata.MetricEngagedSessions: 1, gadata.MetricPageViews: 2, gadata.MetricAvgSessionDuration: 80}),
		).
		OnRecords(analytics.QueryDetailDeviceFull,
			rec(map[string]string{gadata.DimDeviceCategory: "mobile", gadata.DimOperatingSystem: "iOS", gadata.DimMobileBrand: "Apple", gadata.DimMobileModel: "iPhone"},
				map[string]float64{gadata.MetricSessions: 2}),
		).
		OnRecords(analytics.QueryDetailDeviceDesktop,
			rec(map[string]string{gadata.DimDeviceCategory: "desktop", gadata.DimOperatingSystem: "Windows", gadata.DimOSVersion: "11", gadata.DimScreenResolution: "1920x1080"},
				map[string]float64{gadata.MetricSessions: 1}),
		).
		OnRecords(analytics.QueryDetailPageviews,
			rec(map[string]string{gadata.DimPagePath: "/pricing", gadata.DimPageTitle: "Pricing", gadata.DimDate: "20240301", gadata.DimHour: "14"},
				map[string]float64{gadata.MetricPageViews: 4, gadata.MetricUserEngagementSeconds: 120}),
			rec(map[string]string{gadata.DimPagePath: "/signup", gadata.DimPageTitle: "Sign up", gadata.DimDate: "20240301", gadata.DimHour: "14"},
				map[string]float64{gadata.MetricPageViews: 0, gadata.MetricUserEngagementSeconds: 15}),
		).
		OnRecords(analytics.QueryDetailScrollExact,
			rec(map[string]string{gadata.DimPagePath: "/pricing", gadata.DimPercentScrolled: "25"}, map[string]float64{gadata.MetricEventCount: 1}),
			rec(map[string]string{gadata.DimPagePath: "/pricing", gadata.DimPercentScrolled: "90"}, map[string]float64{gadata.MetricEventCount: 1}),
			rec(map[string]string{gadata.DimPagePath: "/signup", gadata.DimPercentScrolled: "0"}, map[string]float64{gadata.MetricEventCount: 1}),
			rec(map[string]string{gadata.DimPagePath: "/signup", gadata.DimPercentScrolled: "(not set)"}, map[string]float64{gadata.MetricEventCount: 1}),
		).
		OnRecords(analytics.QueryDetailScrollContains,
			rec(map[string]string{gadata.DimPagePath: "/pricing", gadata.DimPercentScrolled: "50"}, map[string]float64{gadata.MetricEventCount: 1}),
		).
		OnRecords(analytics.QueryDetailClicks,
			rec(map[string]string{gadata.DimPagePath: "/pricing", gadata.DimLinkURL: "https://docs.example.com", gadata.DimLinkText: "Docs"},
				map[string]float64{gadata.MetricEventCount: 2}),
		).
		OnRecords(analytics.QueryDetailEvents,
			rec(map[string]string{gadata.DimEventName: "page_view", gadata.DimPagePath: "/pricing", gadata.DimDate: "20240301", gadata.DimHour: "14"},
				map[string]float64{gadata.MetricEventCount: 4}),
			rec(map[string]string{gadata.DimEventName: "click", gadata.DimPagePath: "/pricing", gadata.DimDate: "20240301", gadata.DimHour: "14"},
				map[string]float64{gadata.MetricEventCount: 2}),
			rec(map[string]string{gadata.DimEventName: "sign_up", gadata.DimPagePath: "/signup", gadata.DimDate: "20240301", gadata.DimHour: "14"},
				map[string]float64{gadata.MetricEventCount: 1}),
		)
}

func TestGetVisitorDetail(t *testing.T) {
	stub := detailStub()

	detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
	require.NoError(t, err)

	assert.Equal(t, visitors.Alias(detailKey.Stable()), detail.Alias)
	assert.Equal(t, "Returning", detail.VisitorClass)
	assert.Equal(t, "Google", detail.ReferrerName)
	assert.Equal(t, "US", detail.Location.CountryCode)
	assert.Equal(t, "2024-03-01T14:00:00Z", detail.LastSeen)
	assert.Equal(t, "/pricing", detail.ActualLandingPage)

	require.Len(t, detail.Sessions, 2)
	assert.Equal(t, "Mobile", detail.Sessions[0].DeviceCategory)
	require.Len(t, detail.Devices, 1)
	assert.Equal(t, "Apple", detail.Devices[0].Brand)

	require.Len(t, detail.PageVisits, 2)
	pricing, signup := detail.PageVisits[0], detail.PageVisits[1]
	assert.Equal(t, "/pricing", pricing.Path)
	assert.InDelta(t, 30.0, pricing.TimeOnPage, 1e-9)
	assert.InDelta(t, 90.0, pricing.ScrollDepth, 1e-9)
	assert.Equal(t, int64(2), pricing.Clicks)
	assert.Equal(t, []string{"click", "page_view"}, pricing.Events)
	assert.Equal(t, "2024-03-01T14:00:00Z", pricing.Timestamp)
	assert.Equal(t, 0.0, signup.TimeOnPage, "zero views must not divide")
	assert.Equal(t, 0.0, signup.ScrollDepth)
	assert.Equal(t, []string{"sign_up"}, signup.Events)

	require.Len(t, detail.Clicks, 1)
	require.Len(t, detail.Events, 3)

	assert.Equal(t, analytics.DetailSummary{
		TotalSessions:      3,
		TotalPageViews:     4,
		TotalEvents:        7,
		AvgSessionDuration: 60,
	}, detail.Summary)

	assert.Equal(t, map[string]string{
		analytics.SubreportSessions:  "ok",
		analytics.SubreportDevice:    "full",
		analytics.SubreportPageviews: "ok",
		analytics.SubreportScroll:    "exact",
		analytics.SubreportClicks:    "ok",
		analytics.SubreportEvents:    "ok",
	}, detail.Sources)
	assert.Empty(t, detail.Degraded)
	assert.Empty(t, stub.CallsNamed(analytics.QueryDetailDeviceDesktop))
	assert.Empty(t, stub.CallsNamed(analytics.QueryDetailScrollContains))
}

func TestGetVisitorDetailQueries(t *testing.T) {
	t.Run("Sub-queries are scoped by the high-signal key fields", func(t *testing.T) {
		stub := detailStub()
		_, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)

		for _, q := range stub.Calls() {
			assert.LessOrEqual(t, len(q.Dimensions)+len(q.Filters), config.MaxQueryFields, q.Name)

			f, ok := testsupport.FilterValue(q, gadata.DimLandingPage)
			require.True(t, ok, q.Name)
			assert.Equal(t, "/pricing", f.Value)
			f, ok = testsupport.FilterValue(q, gadata.DimCountry)
			require.True(t, ok, q.Name)
			assert.Equal(t, "United States", f.Value)

			_, ok = testsupport.FilterValue(q, gadata.DimBrowser)
			assert.False(t, ok, "browser is never a filter")
		}

		scroll := stub.CallsNamed(analytics.QueryDetailScrollExact)
		require.Len(t, scroll, 1)
		paths, ok := testsupport.FilterValue(scroll[0], gadata.DimPagePath)
		require.True(t, ok)
		assert.Equal(t, gadata.MatchInList, paths.Match)
		assert.Equal(t, []string{"/pricing", "/signup"}, paths.Values)

		pageviews := stub.CallsNamed(analytics.QueryDetailPageviews)[0]
		assert.Equal(t, gadata.AscDimension(gadata.DimDate), pageviews.OrderBys[0])
	})

	t.Run("Unset landing page is not used as a filter", func(t *testing.T) {
		key := detailKey
		key.LandingPage = "(not set)"

		stub := detailStub()
		_, err := newEngine(stub).GetVisitorDetail(context.Background(), key.Encode(), testRange)
		require.NoError(t, err)

		q := stub.CallsNamed(analytics.QueryDetailSessions)[0]
		_, ok := testsupport.FilterValue(q, gadata.DimLandingPage)
		assert.False(t, ok)
		assert.Len(t, q.Filters, 4)
	})
}

func TestGetVisitorDetailFallbacks(t *testing.T) {
	t.Run("Device falls back to fields every device class has", func(t *testing.T) {
		stub := detailStub().FailQuery(analytics.QueryDetailDeviceFull, errors.New("incompatible dimensions"))

		detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)
		assert.Equal(t, "desktop", detail.Sources[analytics.SubreportDevice])
		require.Len(t, detail.Devices, 1)
		assert.Equal(t, "1920x1080", detail.Devices[0].ScreenResolution)
		assert.Empty(t, detail.Degraded)
	})

	t.Run("Both device variants failing degrades the device report", func(t *testing.T) {
		stub := detailStub().
			FailQuery(analytics.QueryDetailDeviceFull, errors.New("incompatible dimensions")).
			FailQuery(analytics.QueryDetailDeviceDesktop, context.DeadlineExceeded)

		detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)
		assert.Equal(t, analytics.VariantFailed, detail.Sources[analytics.SubreportDevice])
		assert.Equal(t, []string{analytics.SubreportDevice}, detail.Degraded)
		assert.Empty(t, detail.Devices)
		assert.Len(t, detail.Sessions, 2)
	})

	t.Run("Scroll retries with a contains match", func(t *testing.T) {
		stub := detailStub().FailQuery(analytics.QueryDetailScrollExact, errors.New("bad request"))

		detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)
		assert.Equal(t, "contains", detail.Sources[analytics.SubreportScroll])
		assert.InDelta(t, 50.0, detail.PageVisits[0].ScrollDepth, 1e-9)

		q := stub.CallsNamed(analytics.QueryDetailScrollContains)[0]
		f, ok := testsupport.FilterValue(q, gadata.DimEventName)
		require.True(t, ok)
		assert.Equal(t, gadata.MatchContains, f.Match)
	})

	t.Run("Optional failures leave the rest intact", func(t *testing.T) {
		stub := detailStub().
			FailQuery(analytics.QueryDetailScrollExact, errors.New("bad request")).
			FailQuery(analytics.QueryDetailScrollContains, errors.New("bad request")).
			FailQuery(analytics.QueryDetailClicks, errors.New("timeout")).
			FailQuery(analytics.QueryDetailEvents, errors.New("timeout"))

		detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)
		assert.Equal(t, []string{analytics.SubreportClicks, analytics.SubreportEvents, analytics.SubreportScroll}, detail.Degraded)
		require.Len(t, detail.PageVisits, 2)
		assert.Equal(t, 0.0, detail.PageVisits[0].ScrollDepth)
		assert.Equal(t, int64(0), detail.PageVisits[0].Clicks)
		assert.Equal(t, []string{}, detail.PageVisits[0].Events)
		assert.Equal(t, int64(0), detail.Summary.TotalEvents)
	})

	t.Run("Failed pageviews skip scroll depth", func(t *testing.T) {
		stub := detailStub().FailQuery(analytics.QueryDetailPageviews, errors.New("timeout"))

		detail, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		require.NoError(t, err)
		assert.Equal(t, analytics.VariantSkipped, detail.Sources[analytics.SubreportScroll])
		assert.Equal(t, []string{analytics.SubreportPageviews}, detail.Degraded)
		assert.Empty(t, stub.CallsNamed(analytics.QueryDetailScrollExact))
		assert.Equal(t, "", detail.ActualLandingPage)
	})
}

func TestGetVisitorDetailErrors(t *testing.T) {
	t.Run("Malformed key", func(t *testing.T) {
		stub := detailStub()
		_, err := newEngine(stub).GetVisitorDetail(context.Background(), "not-a-key", testRange)
		assert.ErrorIs(t, err, visitors.ErrMalformedIdentityKey)
		assert.Empty(t, stub.Calls())
	})

	t.Run("No adapter", func(t *testing.T) {
		engine := analytics.NewEngine(nil, testsupport.GetLogger(), analytics.DefaultOptions())
		_, err := engine.GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		assert.ErrorIs(t, err, gadata.ErrAdapterUnavailable)
	})

	t.Run("Sessions failure is fatal", func(t *testing.T) {
		stub := detailStub().FailQuery(analytics.QueryDetailSessions, context.DeadlineExceeded)
		_, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Schema mismatch in an optional report is not absorbed", func(t *testing.T) {
		stub := detailStub().On(analytics.QueryDetailClicks, gadata.Row{DimensionValues: []string{"/pricing"}})
		_, err := newEngine(stub).GetVisitorDetail(context.Background(), detailKey.Encode(), testRange)
		assert.ErrorIs(t, err, gadata.ErrSchemaMismatch)
	})
}
