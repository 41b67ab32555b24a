package geocode_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geocode"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
)

const empireState = `{
  "features": [
    {
      "geometry": {"type": "Point", "coordinates": [-73.985664, 40.748441]},
      "properties": {
        "label": "350 5 AVENUE, Manhattan, New York, NY, USA",
        "confidence": 1,
        "borough": "MANHATTAN",
        "postalcode": "10118",
        "addendum": {"pad": {"bbl": "1008350041", "bin": "1015862"}}
      }
    }
  ]
}`

func newResolver(t *testing.T, handler http.HandlerFunc) *geocode.GeoSearch {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cb := resilience.DefaultCircuitBreakerConfig("geosearch-test")
	cb.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	return geocode.NewGeoSearch(geocode.GeoSearchConfig{
		BaseURL: server.URL,
		HTTPClient: resilience.NewClient(resilience.ClientConfig{
			Name:           "geosearch-test",
			Timeout:        2 * time.Second,
			RetryStep:      time.Millisecond,
			CircuitBreaker: &cb,
		}),
		Logger: zerolog.New(io.Discard),
	})
}

func TestGeoSearch_Resolve(t *testing.T) {
	var gotPath, gotText, gotAccept string
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotText = req.URL.Query().Get("text")
		gotAccept = req.Header.Get("Accept")
		_, _ = w.Write([]byte(empireState))
	})

	loc, err := r.Resolve(context.Background(), geocode.Request{Address: " 350 5th Ave, New York "})
	require.NoError(t, err)

	assert.Equal(t, "/v2/search", gotPath)
	assert.Equal(t, "350 5th Ave, New York", gotText)
	assert.Equal(t, "application/json", gotAccept)

	assert.Equal(t, "350 5 AVENUE, Manhattan, New York, NY, USA", loc.NormalizedAddress)
	assert.Equal(t, brief.GeocoderGeoSearch, loc.Geocoder)
	assert.Equal(t, 40.748441, loc.Lat)
	assert.Equal(t, -73.985664, loc.Lon)
	assert.Equal(t, "1008350041", loc.BBL)
	assert.Equal(t, "1015862", loc.BIN)
	assert.Equal(t, "Manhattan", loc.Borough)
	assert.Equal(t, "10118", loc.ZipCode)
	require.NotNil(t, loc.Confidence)
	assert.Equal(t, 1.0, *loc.Confidence)
}

func TestGeoSearch_BBLTakesPrecedence(t *testing.T) {
	var gotText string
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		gotText = req.URL.Query().Get("text")
		_, _ = w.Write([]byte(empireState))
	})

	_, err := r.Resolve(context.Background(), geocode.Request{Address: "ignored", BBL: "1008350041"})
	require.NoError(t, err)
	assert.Equal(t, "1008350041", gotText)
}

func TestGeoSearch_Failures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantNotFound bool
	}{
		{"no features", http.StatusOK, `{"features": []}`, true},
		{"missing coordinates", http.StatusOK, `{"features": [{"geometry": {"coordinates": []}}]}`, true},
		{"client error", http.StatusBadRequest, `{}`, true},
		{"server error", http.StatusBadGateway, `{}`, false},
		{"malformed body", http.StatusOK, `{"features": [`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := r.Resolve(context.Background(), geocode.Request{Address: "nowhere"})
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, geocode.ErrNotFound))
		})
	}
}

func TestGeoSearch_MissingInput(t *testing.T) {
	r := newResolver(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := r.Resolve(context.Background(), geocode.Request{Address: "  "})
	assert.ErrorIs(t, err, geocode.ErrMissingInput)
}

func TestNormalizeBorough(t *testing.T) {
	tests := map[string]string{
		"MANHATTAN":     "Manhattan",
		"staten island": "Staten Island",
		" Bronx ":       "Bronx",
		"":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, geocode.NormalizeBorough(in), in)
	}
}
