package modules

import (
	"context"
	"fmt"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/soda"
)

const rightNowMethodology = "active-now strip built from live time overlap checks; closures use geospatial radius, street works use WKT proximity, film uses borough+ZIP fallback"

// RightNow builds the live disruption strip: closures, street works and film
// shoots active at the moment of the request.
type RightNow struct {
	deps Deps
}

// NewRightNow creates the right_now builder.
func NewRightNow(deps Deps) *RightNow {
	return &RightNow{deps: deps}
}

// ID implements brief.Builder.
func (b *RightNow) ID() brief.ModuleID { return brief.ModuleRightNow }

// Build implements brief.Builder.
func (b *RightNow) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.StreetClosures, soda.StreetPermits, soda.FilmPermits)
	loc := qc.Location
	now := qc.Now
	hour := qc.HourBucket()

	closures := &request{
		dataset: soda.StreetClosures,
		purpose: "active",
		window:  hour,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "uniqueid, onstreetname, fromstreetname, tostreetname, work_start_date, work_end_date, purpose",
			Where: soda.And(
				soda.WithinCircle("the_geom", loc.Lat, loc.Lon, qc.RadiusSecondaryM),
				soda.CompareISO("work_start_date", "<=", now),
				soda.CompareISO("work_end_date", ">=", now),
			),
			Order: "work_end_date ASC",
			Limit: 20,
		},
	}
	works := &request{
		dataset: soda.StreetPermits,
		purpose: "active",
		window:  hour,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "permitnumber, permittypedesc, permitteename, onstreetname, fromstreetname, tostreetname, issuedworkstartdate, issuedworkenddate, wkt",
			Where: soda.And(
				soda.BoroughEquals("boroughname", loc.Borough),
				soda.CompareISO("issuedworkstartdate", "<=", now),
				soda.CompareISO("issuedworkenddate", ">=", now),
				soda.NotNull("wkt"),
			),
			Order: "issuedworkenddate ASC",
			Limit: 500,
		},
	}
	film := &request{
		dataset: soda.FilmPermits,
		purpose: "active",
		window:  hour,
		ttl:     ttlHalf,
		query: soda.Query{
			Select: "eventid, eventtype, parkingheld, startdatetime, enddatetime, zipcode_s",
			Where: soda.And(
				soda.BoroughEquals("borough", loc.Borough),
				soda.CompareISO("startdatetime", "<=", now),
				soda.CompareISO("enddatetime", ">=", now),
			),
			Order: "enddatetime ASC",
			Limit: 60,
		},
	}

	outs := b.deps.settle(ctx, qc.BlockKey, closures, works, film)
	warnings := b.deps.failures(brief.ModuleRightNow, outs, []string{soda.StreetClosures, soda.StreetPermits, soda.FilmPermits})
	if allFailed(outs) {
		return brief.UnavailableModule(brief.ModuleRightNow,
			"Live disruption strip is temporarily unavailable.",
			sources, rightNowMethodology, joinWarnings(warnings)), nil
	}

	closureRows := outs[0].rows

	nearbyWorks := make([]soda.Row, 0, len(outs[1].rows))
	for _, row := range outs[1].rows {
		line := geo.ParseLineString(row.Text("wkt"))
		if len(line) == 0 {
			continue
		}
		if geo.DistanceToPolyline(loc.Lat, loc.Lon, line) <= qc.RadiusSecondaryM {
			nearbyWorks = append(nearbyWorks, row)
		}
	}

	nearbyFilm := make([]soda.Row, 0, len(outs[2].rows))
	for _, row := range outs[2].rows {
		if zipMatches(row.Text("zipcode_s"), loc.ZipCode) {
			nearbyFilm = append(nearbyFilm, row)
		}
	}

	headline := "Right now: no active closures, film permits, or street works were detected nearby."
	if len(closureRows)+len(nearbyWorks)+len(nearbyFilm) > 0 {
		headline = fmt.Sprintf("Right now: %d active closures, %d active street works, and %d active film permits nearby.",
			len(closureRows), len(nearbyWorks), len(nearbyFilm))
	}

	m := brief.NewModule(brief.ModuleRightNow, headline, sources, rightNowMethodology)
	m.Stats = []brief.Stat{
		{Label: "Active closures", Value: brief.Count(len(closureRows))},
		{Label: "Active street works", Value: brief.Count(len(nearbyWorks))},
		{Label: "Active film permits", Value: brief.Count(len(nearbyFilm))},
	}

	items := make([]brief.Item, 0, brief.ItemLimit)
	for _, row := range limit(closureRows, 5) {
		items = append(items, closureItem(row, ""))
	}
	for _, row := range limit(nearbyWorks, 5) {
		items = append(items, permitItem(row, "Street work"))
	}
	for _, row := range limit(nearbyFilm, 5) {
		items = append(items, brief.Item{
			Title:           firstNonEmpty(row.Text("eventtype"), "Film permit"),
			Subtitle:        row.Text("parkingheld"),
			DateStart:       row.Text("startdatetime"),
			DateEnd:         row.Text("enddatetime"),
			LocationDesc:    row.Text("parkingheld"),
			SourceDatasetID: soda.FilmPermits,
			RawID:           row.Text("eventid"),
		})
	}
	m.Items = capItems(items)

	if loc.ZipCode == "" {
		m.CoverageNote = "Film matching is borough-level because ZIP metadata was unavailable for this location."
	}
	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
	}
	return m, nil
}

// closureItem renders a street closure row. An empty fallback leaves the
// title blank when no street name is known.
func closureItem(row soda.Row, fallback string) brief.Item {
	on, from, to := row.Text("onstreetname"), row.Text("fromstreetname"), row.Text("tostreetname")
	return brief.Item{
		Title:           firstNonEmpty(streetSegment(on, from, to), fallback),
		Subtitle:        row.Text("purpose"),
		DateStart:       row.Text("work_start_date"),
		DateEnd:         row.Text("work_end_date"),
		LocationDesc:    joinNonEmpty(" / ", on, from, to),
		SourceDatasetID: soda.StreetClosures,
		RawID:           row.Text("uniqueid"),
	}
}

// permitItem renders a street construction permit row with its geometry.
func permitItem(row soda.Row, fallback string) brief.Item {
	return brief.Item{
		Title:           firstNonEmpty(row.Text("permittypedesc"), fallback),
		Subtitle:        row.Text("permitteename"),
		DateStart:       row.Text("issuedworkstartdate"),
		DateEnd:         row.Text("issuedworkenddate"),
		LocationDesc:    joinNonEmpty(" / ", row.Text("onstreetname"), row.Text("fromstreetname"), row.Text("tostreetname")),
		SourceDatasetID: soda.StreetPermits,
		RawID:           row.Text("permitnumber"),
		GeometryWKT:     row.Text("wkt"),
	}
}
