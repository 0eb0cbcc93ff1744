package visitors_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/visitors"
)

func TestIdentityKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  visitors.IdentityKey
	}{
		{
			name: "plain values",
			key: visitors.IdentityKey{
				Date: "20240301", Hour: "14", LandingPage: "/pricing", Browser: "Chrome",
				Country: "United States", Region: "California", City: "San Francisco",
				VisitorClass: "returning", Referrer: "google", RowIndex: 7,
			},
		},
		{
			name: "values containing the delimiter and escape characters",
			key: visitors.IdentityKey{
				Date: "20240301", Hour: "09", LandingPage: "/a~|~b?x=1&y=%20|z", Browser: "Edge|Beta",
				Country: "Côte d'Ivoire", Region: "Abidjan ~|~", City: "a+b c-d",
				VisitorClass: "new", Referrer: "t.co/~|", RowIndex: 0,
			},
		},
		{
			name: "empty landing page",
			key: visitors.IdentityKey{
				Date: "20240101", Hour: "00", Browser: "Safari", Country: "Japan",
				Region: "Tokyo", City: "Tokyo", VisitorClass: "new", Referrer: "(direct)", RowIndex: 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := visitors.DecodeIdentityKey(tt.key.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.key, decoded)
			assert.Equal(t, tt.key.Stable(), decoded.Stable())
		})
	}
}

func TestIdentityKeyNoneSentinel(t *testing.T) {
	key := visitors.IdentityKey{Date: "20240301", Hour: "10", Browser: "Chrome", Country: "Chile", VisitorClass: "new"}

	decoded, err := visitors.DecodeIdentityKey(key.Encode())
	require.NoError(t, err)

	assert.Equal(t, visitors.NoneValue, decoded.Region)
	assert.Equal(t, visitors.NoneValue, decoded.City)
	assert.Equal(t, visitors.NoneValue, decoded.Referrer)
	assert.Equal(t, key.Stable(), decoded.Stable())
}

func TestIdentityKeyIsTransportSafe(t *testing.T) {
	key := visitors.IdentityKey{
		Date: "20240301", Hour: "14", LandingPage: "/blog/post?id=1#top", Browser: "Chrome",
		Country: "United Kingdom", Region: "England", City: "London", VisitorClass: "new", Referrer: "news/feed",
	}
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, key.Encode())
}

func TestDecodeIdentityKeyRejectsMalformed(t *testing.T) {
	encode := func(raw string) string { return base64.RawURLEncoding.EncodeToString([]byte(raw)) }

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "***"},
		{"too few segments", encode("v1~|~20240301~|~14")},
		{"too many segments", encode("v1~|~a~|~b~|~c~|~d~|~e~|~f~|~g~|~h~|~i~|~0~|~extra")},
		{"wrong version", encode("v9~|~a~|~b~|~c~|~d~|~e~|~f~|~g~|~h~|~i~|~0")},
		{"bad row index", encode("v1~|~a~|~b~|~c~|~d~|~e~|~f~|~g~|~h~|~i~|~x")},
		{"negative row index", encode("v1~|~a~|~b~|~c~|~d~|~e~|~f~|~g~|~h~|~i~|~-1")},
		{"bad escape", encode("v1~|~%zz~|~b~|~c~|~d~|~e~|~f~|~g~|~h~|~i~|~0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := visitors.DecodeIdentityKey(tt.key)
			assert.ErrorIs(t, err, visitors.ErrMalformedIdentityKey)
			assert.Equal(t, visitors.IdentityKey{}, key)
		})
	}
}

func TestStableKey(t *testing.T) {
	t.Run("Empty region and city become none", func(t *testing.T) {
		key := visitors.NewStableKey("Peru", "", "", "Chrome")
		assert.Equal(t, visitors.NoneValue, key.Region)
		assert.Equal(t, visitors.NoneValue, key.City)
	})

	t.Run("String round-trips", func(t *testing.T) {
		key := visitors.NewStableKey("A~|~B", "x|y", "c d", "Opera")
		parsed, err := visitors.ParseStableKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	})

	t.Run("Fields containing the delimiter do not collide", func(t *testing.T) {
		a := visitors.NewStableKey("A~|~B", "C", "D", "E")
		b := visitors.NewStableKey("A", "B~|~C", "D", "E")
		assert.NotEqual(t, a.String(), b.String())
	})

	t.Run("Parse rejects wrong segment count", func(t *testing.T) {
		_, err := visitors.ParseStableKey("a~|~b")
		assert.ErrorIs(t, err, visitors.ErrMalformedIdentityKey)
	})
}

func TestRecencyKey(t *testing.T) {
	assert.Equal(t, "2024030109", visitors.RecencyKey("20240301", "9"))
	assert.Equal(t, "2024030114", visitors.RecencyKey("20240301", "14"))
	assert.Less(t, visitors.RecencyKey("20240301", "9"), visitors.RecencyKey("20240301", "10"))
	assert.Less(t, visitors.RecencyKey("20240301", "23"), visitors.RecencyKey("20240302", "00"))
}

func TestHasLandingPage(t *testing.T) {
	assert.True(t, visitors.IdentityKey{LandingPage: "/"}.HasLandingPage())
	assert.False(t, visitors.IdentityKey{LandingPage: ""}.HasLandingPage())
	assert.False(t, visitors.IdentityKey{LandingPage: "(not set)"}.HasLandingPage())
}
