package brief_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/brief"
)

func TestSummarize(t *testing.T) {
	resp := &brief.Response{Modules: []brief.Module{
		{ID: brief.ModuleRightNow, Stats: []brief.Stat{
			{Label: "Active closures", Value: brief.Count(2)},
			{Label: "Active street works", Value: brief.Count(3)},
			{Label: "Active film permits", Value: brief.Text("1")},
		}},
		{ID: brief.ModuleCollisions, Stats: []brief.Stat{
			{Label: "Crashes (90d)", Value: brief.Count(41)},
			{Label: "Injuries (90d)", Value: brief.Text("1,204")},
		}},
		{ID: brief.Module311Pulse, Stats: []brief.Stat{
			{Label: "Requests (30d)", Value: brief.Count(220)},
		}},
		{ID: brief.ModuleEvents, Stats: []brief.Stat{
			{Label: "Upcoming events", Value: brief.Text("N/A")},
		}},
	}}

	assert.Equal(t, brief.SummaryMetrics{
		ActiveDisruptions: 6,
		Crashes90d:        41,
		Injuries90d:       1204,
		Requests30d:       220,
		UpcomingEvents30d: 0,
	}, brief.Summarize(resp))

	assert.Equal(t, brief.SummaryMetrics{}, brief.Summarize(&brief.Response{}))
}

func TestTopItems(t *testing.T) {
	m := &brief.Module{Items: []brief.Item{
		{Title: " Noise - Residential ", Subtitle: "40 requests"},
		{Title: "noise - residential", Subtitle: "40 REQUESTS"},
		{Title: "  "},
		{Title: "Illegal Parking", Subtitle: "22 requests"},
		{Title: "Noise - Residential", Subtitle: "3 requests"},
		{Title: "Heat/Hot Water"},
	}}

	top := brief.TopItems(m, 3)
	assert.Equal(t, []brief.Highlight{
		{Title: "Noise - Residential", Subtitle: "40 requests"},
		{Title: "Illegal Parking", Subtitle: "22 requests"},
		{Title: "Noise - Residential", Subtitle: "3 requests"},
	}, top)

	assert.Empty(t, brief.TopItems(nil, 3))
	assert.Len(t, brief.TopItems(m, 10), 4)
}

func TestStatValueJSON(t *testing.T) {
	delta := 70.0
	stats := []brief.Stat{
		{Label: "Requests (30d)", Value: brief.Count(220), Delta: &delta},
		{Label: "Top issue", Value: brief.Text("Noise")},
		{Label: "Ratio", Value: brief.Number(0.25), Unit: "%"},
	}

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"label":"Requests (30d)","value":220,"delta":70},
		{"label":"Top issue","value":"Noise"},
		{"label":"Ratio","value":0.25,"unit":"%"}
	]`, string(raw))

	var decoded []brief.Stat
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 3)
	assert.True(t, decoded[0].Value.IsNumber())
	assert.Equal(t, 220.0, decoded[0].Value.Float())
	assert.False(t, decoded[1].Value.IsNumber())
	assert.Equal(t, "Noise", decoded[1].Value.String())
	assert.Equal(t, 70.0, *decoded[0].Delta)

	var bad brief.StatValue
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

func TestModuleJSONShape(t *testing.T) {
	m := brief.UnavailableModule(brief.ModuleFilm, "Film permit data is temporarily unavailable.",
		brief.Sources("tg4x-b46p"), "m", "SODA tg4x-b46p failed (500): boom")

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"film",
		"headline":"Film permit data is temporarily unavailable.",
		"status":"unavailable",
		"stats":[{"label":"Status","value":"Data temporarily unavailable"}],
		"items":[],
		"methodology":"m",
		"sources":[{"dataset_id":"tg4x-b46p","dataset_name":"Film Permits","dataset_url":"https://data.cityofnewyork.us/City-Government/Film-Permits/tg4x-b46p"}],
		"warnings":["SODA tg4x-b46p failed (500): boom"]
	}`, string(raw))
}

func TestQueryContext(t *testing.T) {
	qc, err := brief.NewQueryContext(testLocation, testNow)
	require.NoError(t, err)

	assert.Equal(t, "bbl:1008350041", qc.BlockKey)
	assert.Equal(t, "MANHATTAN", qc.Borough())
	assert.Equal(t, "2026-03-10T14", qc.HourBucket())
	assert.Equal(t, "2026-03-10", qc.DayBucket())
	assert.Equal(t, testNow.AddDate(-1, 0, 0), qc.Window12m)

	noBBL := testLocation
	noBBL.BBL = ""
	qc, err = brief.NewQueryContext(noBBL, testNow)
	require.NoError(t, err)
	assert.Equal(t, "grid:40.74844:-73.98566", qc.BlockKey)

	_, err = brief.NewQueryContext(brief.ResolvedLocation{}, testNow)
	assert.ErrorIs(t, err, brief.ErrInvalidLocation)
}
