package modules_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/modules"
	"github.com/blockbrief/blockbrief/internal/soda"
)

var errBoom = errors.New("boom")

var testNow = time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

var testLocation = brief.ResolvedLocation{
	NormalizedAddress: "350 5 Avenue, Manhattan, New York, NY, USA",
	Geocoder:          brief.GeocoderGeoSearch,
	Lat:               40.748441,
	Lon:               -73.985664,
	BBL:               "1008350041",
	BIN:               "1015862",
	Borough:           "Manhattan",
	CommunityDistrict: "105",
	ZipCode:           "10118",
}

// Street geometry arrives in EPSG:2263 feet.
const (
	nearLine = "LINESTRING (988000 211800, 988400 212100)"
	farLine  = "LINESTRING (1000000 230000, 1000400 230300)"
)

type handler func(q soda.Query) ([]soda.Row, error)

type recordedQuery struct {
	dataset string
	query   soda.Query
}

// fakeQuerier answers per dataset and records every query it receives.
type fakeQuerier struct {
	mu       sync.Mutex
	handlers map[string]handler
	queries  []recordedQuery
}

func newFakeQuerier(handlers map[string]handler) *fakeQuerier {
	return &fakeQuerier{handlers: handlers}
}

func (f *fakeQuerier) Query(_ context.Context, datasetID string, q soda.Query, _ ...soda.QueryOption) ([]soda.Row, error) {
	f.mu.Lock()
	f.queries = append(f.queries, recordedQuery{dataset: datasetID, query: q})
	h := f.handlers[datasetID]
	f.mu.Unlock()
	if h == nil {
		return []soda.Row{}, nil
	}
	return h(q)
}

func (f *fakeQuerier) queriesFor(datasetID string) []soda.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []soda.Query
	for _, r := range f.queries {
		if r.dataset == datasetID {
			out = append(out, r.query)
		}
	}
	return out
}

func (f *fakeQuerier) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func rows(r ...soda.Row) handler {
	return func(soda.Query) ([]soda.Row, error) { return r, nil }
}

func fails() handler {
	return func(soda.Query) ([]soda.Row, error) { return nil, errBoom }
}

func testDeps(q soda.Querier) modules.Deps {
	return modules.Deps{Querier: q, Logger: zerolog.New(io.Discard)}
}

func testContext(t *testing.T, loc brief.ResolvedLocation) *brief.QueryContext {
	t.Helper()
	qc, err := brief.NewQueryContext(loc, testNow)
	require.NoError(t, err)
	return qc
}

func statText(t *testing.T, m brief.Module, label string) string {
	t.Helper()
	s, ok := m.Stat(label)
	require.True(t, ok, "missing stat %q", label)
	return s.Value.String()
}

func TestAll_ModuleOrder(t *testing.T) {
	builders := modules.All(testDeps(newFakeQuerier(nil)))
	require.Len(t, builders, len(brief.ModuleOrder))
	for i, id := range brief.ModuleOrder {
		assert.Equal(t, id, builders[i].ID())
	}
}

func TestRightNow_Build(t *testing.T) {
	q := newFakeQuerier(map[string]handler{
		soda.StreetClosures: rows(soda.Row{
			"uniqueid":        "C1",
			"onstreetname":    "5 AVENUE",
			"fromstreetname":  "WEST 33 STREET",
			"tostreetname":    "WEST 34 STREET",
			"work_start_date": "2026-03-01T00:00:00.000",
			"work_end_date":   "2026-03-20T00:00:00.000",
			"purpose":         "CRANE",
		}),
		soda.StreetPermits: rows(
			soda.Row{"permitnumber": "P1", "permittypedesc": "OCCUPANCY", "wkt": nearLine},
			soda.Row{"permitnumber": "P2", "permittypedesc": "FAR AWAY", "wkt": farLine},
		),
		soda.FilmPermits: rows(
			soda.Row{"eventid": "F1", "eventtype": "Shooting Permit", "zipcode_s": "10118"},
			soda.Row{"eventid": "F2", "eventtype": "Shooting Permit", "zipcode_s": "11201"},
		),
	})

	m, err := modules.NewRightNow(testDeps(q)).Build(context.Background(), testContext(t, testLocation))
	require.NoError(t, err)

	assert.Equal(t, brief.StatusOK, m.Status)
	assert.Equal(t, "Right now: 1 active closures, 1 active street works, and 1 active film permits nearby.", m.Headline)
	assert.Equal(t, 1.0, m.StatFloat("Active street works"))
	require.Len(t, m.Items, 3)
	assert.Equal(t, "5 AVENUE (WEST 33 STREET to WEST 34 STREET)", m.Items[0].Title)
	assert.Equal(t, "P1", m.Items[1].RawID)
	assert.Equal(t, "F1", m.Items[2].RawID)
	assert.Empty(t, m.CoverageNote)
}

func TestRightNow_Degrades(t *testing.T) {
	tests := []struct {
		name       string
		handlers   map[string]handler
		wantStatus brief.Status
		wantWarn   []string
	}{
		{
			name:       "one dataset down",
			handlers:   map[string]handler{soda.FilmPermits: fails()},
			wantStatus: brief.StatusPartial,
			wantWarn:   []string{"tg4x-b46p: boom"},
		},
		{
			name: "everything down",
			handlers: map[string]handler{
				soda.StreetClosures: fails(),
				soda.StreetPermits:  fails(),
				soda.FilmPermits:    fails(),
			},
			wantStatus: brief.StatusUnavailable,
			wantWarn:   []string{"i6b5-j7bu: boom | tqtj-sjs8: boom | tg4x-b46p: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQuerier(tt.handlers)
			m, err := modules.NewRightNow(testDeps(q)).Build(context.Background(), testContext(t, testLocation))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, m.Status)
			assert.Equal(t, tt.wantWarn, m.Warnings)
		})
	}
}

func TestRankStreetWorks_ActiveFirstThenDuration(t *testing.T) {
	qc := testContext(t, testLocation)
	in := []soda.Row{
		{"permitnumber": "future", "issuedworkstartdate": "2026-04-01T00:00:00.000", "issuedworkenddate": "2026-09-01T00:00:00.000"},
		{"permitnumber": "short", "issuedworkstartdate": "2026-03-01T00:00:00.000", "issuedworkenddate": "2026-03-20T00:00:00.000"},
		{"permitnumber": "long", "issuedworkstartdate": "2026-01-01T00:00:00.000", "issuedworkenddate": "2026-06-30T00:00:00.000"},
		{"permitnumber": "short-twin", "issuedworkstartdate": "2026-03-01T00:00:00.000", "issuedworkenddate": "2026-03-20T00:00:00.000"},
	}

	ranked := modules.RankStreetWorks(in, qc)

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Text("permitnumber")
	}
	assert.Equal(t, []string{"long", "short", "short-twin", "future"}, ids)
	assert.Equal(t, "future", in[0].Text("permitnumber"), "input must not be reordered")
}

func TestStreetWorks_Build(t *testing.T) {
	q := newFakeQuerier(map[string]handler{
		soda.StreetPermits: rows(soda.Row{
			"permitnumber":        "P1",
			"permittypedesc":      "PLACE EQUIPMENT OTHER THAN CRANE",
			"permitteename":       "CON EDISON",
			"issuedworkstartdate": "2026-03-01T00:00:00.000",
			"issuedworkenddate":   "2026-04-01T00:00:00.000",
			"wkt":                 nearLine,
		}),
		soda.StreetOpenings: fails(),
	})

	m, err := modules.NewStreetWorks(testDeps(q)).Build(context.Background(), testContext(t, testLocation))
	require.NoError(t, err)

	assert.Equal(t, brief.StatusPartial, m.Status)
	assert.Equal(t, []string{"9jic-byiu: boom"}, m.Warnings)
	assert.Equal(t, "1 active street disruptions are currently in effect nearby.", m.Headline)
	assert.Equal(t, "PLACE EQUIPMENT OTHER THAN CRANE", statText(t, m, "Most disruptive"))
	assert.Equal(t, "CON EDISON (1)", statText(t, m, "Top permittees"))
}
