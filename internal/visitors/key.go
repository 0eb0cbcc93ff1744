// Package visitors builds the identity keys that stand in for a visitor ID the
// analytics source never exposes.
//
// A StableKey groups rows: two rows with the same country, region, city and
// browser are treated as the same inferred visitor. This is a heuristic. Distinct
// people sharing those attributes are merged, and one person switching browsers
// is split in two.
//
// An IdentityKey is the public, round-trippable handle for one inferred visitor.
// It carries the stable fields plus the most recently observed volatile fields
// (date, hour, landing page, visitor class, referrer, row index), which are used
// for display and to scope detail queries but never for grouping.
package visitors

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// Delimiter separates encoded key segments. Every segment is query-escaped,
	// which turns '|' into %7C, so the delimiter cannot occur inside a segment.
	Delimiter = "~|~"

	// NoneValue replaces empty optional fields.
	NoneValue = "none"

	keyVersion = "v1"

	stableSegments   = 4
	identitySegments = 11
)

var ErrMalformedIdentityKey = errors.New("malformed identity key")

// StableKey is the grouping subset of dimensions. It is comparable and used
// directly as a map key.
type StableKey struct {
	Country string
	Region  string
	City    string
	Browser string
}

// NewStableKey normalizes empty region and city to NoneValue.
func NewStableKey(country, region, city, browser string) StableKey {
	return StableKey{
		Country: country,
		Region:  OrNone(region),
		City:    OrNone(city),
		Browser: browser,
	}
}

// String encodes the key losslessly.
func (k StableKey) String() string {
	return joinSegments(k.Country, k.Region, k.City, k.Browser)
}

// ParseStableKey reverses StableKey.String.
func ParseStableKey(s string) (StableKey, error) {
	parts, err := splitSegments(s, stableSegments)
	if err != nil {
		return StableKey{}, err
	}
	return StableKey{Country: parts[0], Region: parts[1], City: parts[2], Browser: parts[3]}, nil
}

// IdentityKey is the full public key of an inferred visitor.
type IdentityKey struct {
	Date         string
	Hour         string
	LandingPage  string
	Browser      string
	Country      string
	Region       string
	City         string
	VisitorClass string
	Referrer     string
	RowIndex     int
}

// Stable returns the grouping subset of the key.
func (k IdentityKey) Stable() StableKey {
	return NewStableKey(k.Country, k.Region, k.City, k.Browser)
}

// Encode returns a transport-safe (base64url) string that DecodeIdentityKey
// turns back into the same key, with empty region, city and referrer replaced
// by NoneValue.
func (k IdentityKey) Encode() string {
	raw := joinSegments(
		keyVersion,
		k.Date,
		k.Hour,
		k.LandingPage,
		k.Browser,
		k.Country,
		OrNone(k.Region),
		OrNone(k.City),
		k.VisitorClass,
		OrNone(k.Referrer),
		strconv.Itoa(k.RowIndex),
	)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// HasLandingPage reports whether the key carries a usable landing page.
func (k IdentityKey) HasLandingPage() bool {
	return k.LandingPage != "" && k.LandingPage != "(not set)"
}

// DecodeIdentityKey parses a key produced by Encode. Anything that does not
// split into exactly the expected segments is rejected; no partial identity is
// ever returned.
func DecodeIdentityKey(s string) (IdentityKey, error) {
	if s == "" {
		return IdentityKey{}, fmt.Errorf("%w: empty key", ErrMalformedIdentityKey)
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return IdentityKey{}, fmt.Errorf("%w: %v", ErrMalformedIdentityKey, err)
	}

	parts, err := splitSegments(string(raw), identitySegments)
	if err != nil {
		return IdentityKey{}, err
	}
	if parts[0] != keyVersion {
		return IdentityKey{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedIdentityKey, parts[0])
	}

	rowIndex, err := strconv.Atoi(parts[10])
	if err != nil || rowIndex < 0 {
		return IdentityKey{}, fmt.Errorf("%w: invalid row index %q", ErrMalformedIdentityKey, parts[10])
	}

	return IdentityKey{
		Date:         parts[1],
		Hour:         parts[2],
		LandingPage:  parts[3],
		Browser:      parts[4],
		Country:      parts[5],
		Region:       parts[6],
		City:         parts[7],
		VisitorClass: parts[8],
		Referrer:     parts[9],
		RowIndex:     rowIndex,
	}, nil
}

// OrNone substitutes NoneValue for an empty value.
func OrNone(v string) string {
	if v == "" {
		return NoneValue
	}
	return v
}

// RecencyKey orders observations: the date followed by the zero-padded hour.
// Lexicographic comparison of two RecencyKeys gives their temporal order.
func RecencyKey(date, hour string) string {
	if len(hour) == 1 {
		hour = "0" + hour
	}
	return date + hour
}

func joinSegments(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = url.QueryEscape(f)
	}
	return strings.Join(escaped, Delimiter)
}

func splitSegments(s string, want int) ([]string, error) {
	parts := strings.Split(s, Delimiter)
	if len(parts) != want {
		return nil, fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedIdentityKey, want, len(parts))
	}
	for i, p := range parts {
		v, err := url.QueryUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: %v", ErrMalformedIdentityKey, i, err)
		}
		parts[i] = v
	}
	return parts, nil
}
