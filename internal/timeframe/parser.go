// Package timeframe parses the date range tokens accepted by the reporting API.
//
// A bound is either a literal calendar date (YYYY-MM-DD) or one of the relative
// tokens "today", "yesterday" and "<N>daysAgo". Tokens are kept verbatim so they
// can be handed to the analytics source unchanged; Resolve turns them into
// concrete dates when a caller needs them.
package timeframe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	DateLayout = "2006-01-02"

	TokenToday     = "today"
	TokenYesterday = "yesterday"

	DefaultStart = "30daysAgo"
	DefaultEnd   = TokenToday
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvertedSpan = errors.New("start date is after end date")

	daysAgoPattern = regexp.MustCompile(`^(\d{1,5})daysAgo$`)
)

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Range is a validated pair of date bounds, inclusive on both ends.
type Range struct {
	Start string
	End   string
}

// Span is a Range with both bounds resolved to calendar dates.
type Span struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days covered by the span.
func (s Span) Days() int {
	return int(s.To.Sub(s.From).Hours()/24) + 1
}

type RangeParser struct {
	timeProvider TimeProvider
	loc          *time.Location
}

func NewRangeParser(timeProvider ...TimeProvider) *RangeParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}

	return &RangeParser{
		timeProvider: provider,
		loc:          time.UTC,
	}
}

// Parse validates both bounds, applying the defaults to empty values, and
// rejects ranges whose start resolves after their end.
func (p *RangeParser) Parse(start, end string) (Range, error) {
	if start == "" {
		start = DefaultStart
	}
	if end == "" {
		end = DefaultEnd
	}

	r := Range{Start: start, End: end}
	if _, err := p.Resolve(r); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Resolve converts the range bounds to dates relative to the provider's clock.
func (p *RangeParser) Resolve(r Range) (Span, error) {
	now := p.timeProvider.Now(p.loc)

	from, err := p.resolveBound(r.Start, now)
	if err != nil {
		return Span{}, fmt.Errorf("invalid 'from' date: %w", err)
	}
	to, err := p.resolveBound(r.End, now)
	if err != nil {
		return Span{}, fmt.Errorf("invalid 'to' date: %w", err)
	}
	if from.After(to) {
		return Span{}, fmt.Errorf("%w: %s > %s", ErrInvertedSpan, from.Format(DateLayout), to.Format(DateLayout))
	}
	return Span{From: from, To: to}, nil
}

func (p *RangeParser) resolveBound(value string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)

	switch value {
	case TokenToday:
		return today, nil
	case TokenYesterday:
		return today.AddDate(0, 0, -1), nil
	}

	if m := daysAgoPattern.FindStringSubmatch(value); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
		}
		return today.AddDate(0, 0, -n), nil
	}

	date, err := time.ParseInLocation(DateLayout, value, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return date, nil
}

// Parse validates a range against the system clock.
func Parse(start, end string) (Range, error) {
	return NewRangeParser().Parse(start, end)
}

// CompactDate converts the source's 8-digit YYYYMMDD form to YYYY-MM-DD.
// Values of any other shape are returned unchanged.
func CompactDate(yyyymmdd string) string {
	if len(yyyymmdd) != 8 {
		return yyyymmdd
	}
	for _, r := range yyyymmdd {
		if r < '0' || r > '9' {
			return yyyymmdd
		}
	}
	return yyyymmdd[:4] + "-" + yyyymmdd[4:6] + "-" + yyyymmdd[6:]
}

// HourTimestamp builds an RFC3339 UTC timestamp from a YYYYMMDD date and an hour value.
func HourTimestamp(yyyymmdd, hour string) (time.Time, bool) {
	d, err := time.ParseInLocation("20060102", yyyymmdd, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 {
		return d, true
	}
	return d.Add(time.Duration(h) * time.Hour), true
}
