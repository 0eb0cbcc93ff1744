package gadata

// Dimension names understood by the analytics source.
const (
	DimDate             = "date"
	DimHour             = "hour"
	DimLandingPage      = "landingPage"
	DimPagePath         = "pagePath"
	DimPageTitle        = "pageTitle"
	DimBrowser          = "browser"
	DimCountry          = "country"
	DimRegion           = "region"
	DimCity             = "city"
	DimNewVsReturning   = "newVsReturning"
	DimSessionSource    = "sessionSource"
	DimSessionMedium    = "sessionMedium"
	DimDeviceCategory   = "deviceCategory"
	DimOperatingSystem  = "operatingSystem"
	DimOSVersion        = "operatingSystemVersion"
	DimMobileBrand      = "mobileDeviceBranding"
	DimMobileModel      = "mobileDeviceModel"
	DimScreenResolution = "screenResolution"
	DimEventName        = "eventName"
	DimPercentScrolled  = "percentScrolled"
	DimLinkURL          = "linkUrl"
	DimLinkText         = "linkText"
)

// Metric names understood by the analytics source.
const (
	MetricSessions              = "sessions"
	MetricPageViews             = "screenPageViews"
	MetricAvgSessionDuration    = "averageSessionDuration"
	MetricUserEngagementSeconds = "userEngagementDuration"
	MetricEngagedSessions       = "engagedSessions"
	MetricBounceRate            = "bounceRate"
	MetricActiveUsers           = "activeUsers"
	MetricEventCount            = "eventCount"
)

// Values of DimNewVsReturning.
const (
	VisitorNew       = "new"
	VisitorReturning = "returning"
)
