package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
)

const (
	// ProviderName identifies the GeoSearch provider in the registry.
	ProviderName = "geosearch"

	// DefaultBaseURL is the NYC Planning Labs GeoSearch endpoint.
	DefaultBaseURL = "https://geosearch.planninglabs.nyc"
)

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GeoSearchConfig holds configuration for the GeoSearch client.
type GeoSearchConfig struct {
	// BaseURL is the API base URL. Default: DefaultBaseURL
	BaseURL string

	// HTTPClient is optional. If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	Logger zerolog.Logger
}

// GeoSearch resolves locations with the GeoSearch v2 search API.
type GeoSearch struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ Resolver = (*GeoSearch)(nil)

// NewGeoSearch creates a GeoSearch resolver.
func NewGeoSearch(cfg GeoSearchConfig) *GeoSearch {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	return &GeoSearch{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.With().Str("component", "geosearch").Logger(),
	}
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label      string   `json:"label"`
			Confidence *float64 `json:"confidence"`
			Borough    string   `json:"borough"`
			PostalCode string   `json:"postalcode"`
			Addendum   struct {
				Pad struct {
					BBL string `json:"bbl"`
					BIN string `json:"bin"`
				} `json:"pad"`
			} `json:"addendum"`
		} `json:"properties"`
	} `json:"features"`
}

// Resolve implements Resolver using the first search feature.
func (g *GeoSearch) Resolve(ctx context.Context, req Request) (brief.ResolvedLocation, error) {
	text := req.Text()
	if text == "" {
		return brief.ResolvedLocation{}, ErrMissingInput
	}

	endpoint := g.baseURL + "/v2/search?text=" + url.QueryEscape(text)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return brief.ResolvedLocation{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return brief.ResolvedLocation{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn().Int("status", resp.StatusCode).Str("text", text).Msg("geosearch returned non-200")
		if resp.StatusCode >= http.StatusInternalServerError {
			return brief.ResolvedLocation{}, fmt.Errorf("geosearch status %d", resp.StatusCode)
		}
		return brief.ResolvedLocation{}, fmt.Errorf("%w: geosearch status %d", ErrNotFound, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return brief.ResolvedLocation{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(body.Features) == 0 {
		return brief.ResolvedLocation{}, ErrNotFound
	}

	f := body.Features[0]
	if len(f.Geometry.Coordinates) < 2 {
		return brief.ResolvedLocation{}, ErrNotFound
	}
	lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
	if !finite(lat) || !finite(lon) {
		return brief.ResolvedLocation{}, ErrNotFound
	}

	p := f.Properties
	label := strings.TrimSpace(p.Label)
	if label == "" {
		label = text
	}
	return brief.ResolvedLocation{
		NormalizedAddress: label,
		Geocoder:          brief.GeocoderGeoSearch,
		Confidence:        p.Confidence,
		Lat:               lat,
		Lon:               lon,
		BBL:               p.Addendum.Pad.BBL,
		BIN:               p.Addendum.Pad.BIN,
		Borough:           NormalizeBorough(p.Borough),
		ZipCode:           p.PostalCode,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
