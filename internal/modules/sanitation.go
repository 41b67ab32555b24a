package modules

import (
	"context"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/soda"
)

const sanitationMethodology = "point-in-polygon boundary match at query location; frequencies represent area-level service patterns, not guaranteed exact pickup day"

// Sanitation builds the DSNY collection frequency module.
type Sanitation struct {
	deps Deps
}

// NewSanitation creates the sanitation builder.
func NewSanitation(deps Deps) *Sanitation {
	return &Sanitation{deps: deps}
}

// ID implements brief.Builder.
func (b *Sanitation) ID() brief.ModuleID { return brief.ModuleSanitation }

// boundaryMatch is the cached result of the two-dataset lookup. A nil row
// means neither dataset had a polygon covering the point.
type boundaryMatch struct {
	row    soda.Row
	source string
}

// Build implements brief.Builder.
func (b *Sanitation) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.DSNYFrequencies, soda.GarbageSchedule)

	lookup := func(ctx context.Context) (boundaryMatch, error) {
		return b.lookup(ctx, qc)
	}
	var (
		match boundaryMatch
		err   error
	)
	if b.deps.Cache != nil {
		match, err = cache.GetOrLoad(ctx, b.deps.Cache, cache.Key("sanitation", "boundary", qc.BlockKey, "static"), ttlDaily, lookup)
	} else {
		match, err = lookup(ctx)
	}
	if err != nil {
		warnDegraded(b.deps.Logger, brief.ModuleSanitation, soda.DSNYFrequencies, err)
		return brief.UnavailableModule(brief.ModuleSanitation,
			"Sanitation data is temporarily unavailable.",
			sources, sanitationMethodology, datasetWarning(soda.DSNYFrequencies, err)), nil
	}

	m := brief.NewModule(brief.ModuleSanitation,
		"Area collection frequencies based on DSNY service boundaries.",
		sources, sanitationMethodology)

	if match.row == nil {
		m.Status = brief.StatusPartial
		m.Warnings = []string{"No sanitation boundary match was returned for this location."}
		m.CoverageNote = "Sanitation coverage uses DSNY area frequencies and may miss edge-case points."
		m.Stats = []brief.Stat{{Label: "Status", Value: brief.Text("No boundary match")}}
		return m, nil
	}

	row := match.row
	m.Stats = []brief.Stat{
		{Label: "Refuse", Value: brief.Text(firstNonEmpty(row.Text("freq_refuse"), "N/A"))},
		{Label: "Recycling", Value: brief.Text(firstNonEmpty(row.Text("freq_recycling"), "N/A"))},
		{Label: "Organics", Value: brief.Text(firstNonEmpty(row.Text("freq_organics"), "N/A"))},
		{Label: "Bulk", Value: brief.Text(firstNonEmpty(row.Text("freq_bulk"), "N/A"))},
	}
	m.Items = []brief.Item{{
		Title:           "District " + firstNonEmpty(row.Text("district"), "Unknown") + " Section " + firstNonEmpty(row.Text("section"), "Unknown"),
		Subtitle:        "Source: " + match.source,
		SourceDatasetID: match.source,
	}}
	if match.source == soda.DSNYFrequencies {
		m.CoverageNote = "Primary dataset p7k6-2pm8 is currently sparse via API, so v1 uses DSNY Frequencies (rv63-53db) fallback."
	}
	return m, nil
}

// lookup queries the schedule dataset first and falls back to the
// frequencies dataset when it fails or has no usable row.
func (b *Sanitation) lookup(ctx context.Context, qc *brief.QueryContext) (boundaryMatch, error) {
	preferred, err := b.boundaryRow(ctx, soda.GarbageSchedule, qc)
	if err != nil {
		b.deps.Logger.Debug().Err(err).
			Str("module", string(brief.ModuleSanitation)).
			Str("dataset", soda.GarbageSchedule).
			Msg("preferred sanitation dataset failed, using fallback")
	} else if preferred != nil && hasFrequency(preferred) {
		return boundaryMatch{row: preferred, source: soda.GarbageSchedule}, nil
	}

	fallback, err := b.boundaryRow(ctx, soda.DSNYFrequencies, qc)
	if err != nil {
		return boundaryMatch{}, err
	}
	return boundaryMatch{row: fallback, source: soda.DSNYFrequencies}, nil
}

func (b *Sanitation) boundaryRow(ctx context.Context, datasetID string, qc *brief.QueryContext) (soda.Row, error) {
	rows, err := b.deps.Querier.Query(ctx, datasetID, soda.Query{
		Select: "district, section, freq_refuse, freq_recycling, freq_organics, freq_bulk",
		Where:  soda.Intersects("multipolygon", qc.Location.Lon, qc.Location.Lat),
		Limit:  1,
	}, soda.CacheFor(ttlDaily))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func hasFrequency(row soda.Row) bool {
	return row.Has("freq_refuse") || row.Has("freq_recycling") || row.Has("freq_organics") || row.Has("freq_bulk")
}
