package modules

import (
	"context"
	"fmt"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

const filmMethodology = "next 30 days and active-now check; borough + ZIP fallback matching"

// Film builds the film and TV permit module.
type Film struct {
	deps Deps
}

// NewFilm creates the film builder.
func NewFilm(deps Deps) *Film {
	return &Film{deps: deps}
}

// ID implements brief.Builder.
func (b *Film) ID() brief.ModuleID { return brief.ModuleFilm }

// Build implements brief.Builder.
func (b *Film) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.FilmPermits)
	loc := qc.Location

	outs := b.deps.settle(ctx, qc.BlockKey, &request{
		dataset: soda.FilmPermits,
		purpose: "upcoming",
		window:  qc.DayBucket(),
		ttl:     ttlHalf,
		query: soda.Query{
			Select: "eventid, category, subcategoryname, borough, zipcode_s, parkingheld, startdatetime, enddatetime, eventtype",
			Where: soda.And(
				soda.TimeRange("startdatetime", qc.Now, timeutil.DaysAhead(qc.Now, 30)),
				soda.BoroughEquals("borough", loc.Borough),
			),
			Order: "startdatetime ASC",
			Limit: 100,
		},
	})
	if outs[0].err != nil {
		warnDegraded(b.deps.Logger, brief.ModuleFilm, soda.FilmPermits, outs[0].err)
		return brief.UnavailableModule(brief.ModuleFilm,
			"Film permit data is temporarily unavailable.",
			sources, filmMethodology, datasetWarning(soda.FilmPermits, outs[0].err)), nil
	}

	rows := outs[0].rows
	candidates := make([]soda.Row, 0, len(rows))
	for _, row := range rows {
		if zipMatches(row.Text("zipcode_s"), loc.ZipCode) {
			candidates = append(candidates, row)
		}
	}
	if len(candidates) == 0 {
		candidates = rows
	}

	active := 0
	for _, row := range candidates {
		if timeutil.ActiveAt(qc.Now, row.Text("startdatetime"), row.Text("enddatetime")) {
			active++
		}
	}

	headline := "No upcoming film permits were found in this area for the next 30 days."
	if len(candidates) > 0 {
		headline = fmt.Sprintf("%d film permits are scheduled nearby in the next 30 days.", len(candidates))
	}
	area := "Borough"
	if loc.ZipCode != "" {
		area = "ZIP " + loc.ZipCode
	}

	m := brief.NewModule(brief.ModuleFilm, headline, sources, filmMethodology)
	m.Stats = []brief.Stat{
		{Label: "Upcoming permits", Value: brief.Count(len(candidates))},
		{Label: "Active now", Value: brief.Count(active)},
		{Label: "Area filter", Value: brief.Text(area)},
	}
	for _, row := range limit(candidates, brief.ItemLimit) {
		m.Items = append(m.Items, brief.Item{
			Title:           firstNonEmpty(row.Text("eventtype"), row.Text("category"), "Film permit"),
			Subtitle:        row.Text("subcategoryname"),
			DateStart:       row.Text("startdatetime"),
			DateEnd:         row.Text("enddatetime"),
			LocationDesc:    row.Text("parkingheld"),
			SourceDatasetID: soda.FilmPermits,
			RawID:           row.Text("eventid"),
		})
	}
	if loc.ZipCode == "" {
		m.CoverageNote = "ZIP metadata was unavailable, so this module is borough-scoped in v1."
	}
	return m, nil
}
