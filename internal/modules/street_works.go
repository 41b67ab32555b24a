package modules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

const streetWorksMethodology = "active-first ranking: active now, then longer duration, then closer geometry; closure radius is geospatial, opening permits use borough+street fallback"

// StreetWorks builds the street works module from construction permits,
// opening permits and block closures.
type StreetWorks struct {
	deps Deps
}

// NewStreetWorks creates the street_works builder.
func NewStreetWorks(deps Deps) *StreetWorks {
	return &StreetWorks{deps: deps}
}

// ID implements brief.Builder.
func (b *StreetWorks) ID() brief.ModuleID { return brief.ModuleStreetWorks }

// Build implements brief.Builder.
func (b *StreetWorks) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.StreetPermits, soda.StreetOpenings, soda.StreetClosures)
	loc := qc.Location
	next30 := timeutil.DaysAhead(qc.Now, 30)
	day := qc.DayBucket()

	closures := &request{
		dataset: soda.StreetClosures,
		purpose: "upcoming",
		window:  day,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "uniqueid, onstreetname, fromstreetname, tostreetname, work_start_date, work_end_date, purpose",
			Where: soda.And(
				soda.WithinCircle("the_geom", loc.Lat, loc.Lon, qc.RadiusSecondaryM),
				soda.TimeRange("work_end_date", qc.Now, time.Time{}),
			),
			Order: "work_start_date ASC",
			Limit: 80,
		},
	}
	permits := &request{
		dataset: soda.StreetPermits,
		purpose: "window",
		window:  day,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "permitnumber, permitstatusshortdesc, permittypedesc, permitteename, onstreetname, fromstreetname, tostreetname, issuedworkstartdate, issuedworkenddate, wkt",
			Where: soda.And(
				soda.BoroughEquals("boroughname", loc.Borough),
				soda.CompareISO("issuedworkenddate", ">=", qc.Window90d),
				soda.CompareISO("issuedworkstartdate", "<=", next30),
				soda.NotNull("wkt"),
			),
			Order: "issuedworkstartdate ASC",
			Limit: 1200,
		},
	}
	openings := &request{
		dataset: soda.StreetOpenings,
		purpose: "window",
		window:  day,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "permitnumber, permittypedesc, permitstatusshortdesc, permitteename, onstreetname, fromstreetname, tostreetname, issuedworkstartdate, issuedworkenddate",
			Where: soda.And(
				soda.BoroughEquals("boroughname", loc.Borough),
				soda.CompareISO("issuedworkenddate", ">=", qc.Window90d),
				soda.CompareISO("issuedworkstartdate", "<=", next30),
			),
			Order: "issuedworkstartdate ASC",
			Limit: 250,
		},
	}

	outs := b.deps.settle(ctx, qc.BlockKey, closures, permits, openings)
	warnings := b.deps.failures(brief.ModuleStreetWorks, outs, []string{soda.StreetClosures, soda.StreetPermits, soda.StreetOpenings})
	if allFailed(outs) {
		return brief.UnavailableModule(brief.ModuleStreetWorks,
			"Street works data is temporarily unavailable.",
			sources, streetWorksMethodology, joinWarnings(warnings)), nil
	}

	ranked := RankStreetWorks(nearbyPermits(outs[1].rows, loc.Lat, loc.Lon, qc.RadiusSecondaryM), qc)

	activeWorks := 0
	for _, row := range ranked {
		if timeutil.ActiveAt(qc.Now, row.Text("issuedworkstartdate"), row.Text("issuedworkenddate")) {
			activeWorks++
		}
	}

	activeClosures := make([]soda.Row, 0)
	for _, row := range outs[0].rows {
		if timeutil.ActiveAt(qc.Now, row.Text("work_start_date"), row.Text("work_end_date")) {
			activeClosures = append(activeClosures, row)
		}
	}

	mostDisruptive := "N/A"
	if len(ranked) > 0 {
		mostDisruptive = firstNonEmpty(ranked[0].Text("permittypedesc"), "N/A")
	}

	active := activeWorks + len(activeClosures)
	headline := "No active street disruptions were found in the immediate radius right now."
	if active > 0 {
		headline = fmt.Sprintf("%d active street disruptions are currently in effect nearby.", active)
	}

	m := brief.NewModule(brief.ModuleStreetWorks, headline, sources, streetWorksMethodology)
	m.Stats = []brief.Stat{
		{Label: "Active street works", Value: brief.Count(activeWorks)},
		{Label: "Active closures", Value: brief.Count(len(activeClosures))},
		{Label: "Most disruptive", Value: brief.Text(mostDisruptive)},
		{Label: "Top permittees", Value: brief.Text(firstNonEmpty(topPermittees(ranked, 3), "N/A"))},
	}

	items := make([]brief.Item, 0, brief.ItemLimit)
	for _, row := range limit(activeClosures, 5) {
		items = append(items, closureItem(row, "Street closure"))
	}
	for _, row := range limit(ranked, 5) {
		items = append(items, permitItem(row, "Street work permit"))
	}
	for _, row := range limit(outs[2].rows, 2) {
		items = append(items, brief.Item{
			Title:           firstNonEmpty(row.Text("permittypedesc"), "Street opening permit"),
			Subtitle:        firstNonEmpty(row.Text("permitteename"), "Unknown permittee") + " · " + firstNonEmpty(row.Text("permitstatusshortdesc"), "Unknown status"),
			DateStart:       row.Text("issuedworkstartdate"),
			DateEnd:         row.Text("issuedworkenddate"),
			LocationDesc:    joinNonEmpty(" / ", row.Text("onstreetname"), row.Text("fromstreetname"), row.Text("tostreetname")),
			SourceDatasetID: soda.StreetOpenings,
			RawID:           row.Text("permitnumber"),
		})
	}
	m.Items = capItems(items)

	m.CoverageNote = "Street opening permits (9jic-byiu) are borough-filtered in v1 because precise geometry is not consistently exposed in this feed."
	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
	}
	return m, nil
}

// nearbyPermits keeps permits whose line geometry passes within radiusM of
// the query point, closest first.
func nearbyPermits(rows []soda.Row, lat, lon, radiusM float64) []soda.Row {
	type candidate struct {
		row       soda.Row
		proximity float64
	}

	candidates := make([]candidate, 0, len(rows))
	for _, row := range rows {
		d := math.Inf(1)
		if line := geo.ParseLineString(row.Text("wkt")); len(line) > 0 {
			d = geo.DistanceToPolyline(lat, lon, line)
		}
		if d <= radiusM {
			candidates = append(candidates, candidate{row: row, proximity: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].proximity < candidates[j].proximity
	})

	out := make([]soda.Row, len(candidates))
	for i, c := range candidates {
		out[i] = c.row
	}
	return out
}

// RankStreetWorks orders permits active-first, then by longer duration.
// The sort is stable, so rows that tie keep their incoming order.
func RankStreetWorks(rows []soda.Row, qc *brief.QueryContext) []soda.Row {
	ranked := make([]soda.Row, len(rows))
	copy(ranked, rows)

	active := func(r soda.Row) bool {
		return timeutil.ActiveAt(qc.Now, r.Text("issuedworkstartdate"), r.Text("issuedworkenddate"))
	}
	duration := func(r soda.Row) int {
		return timeutil.DurationDays(r.Text("issuedworkstartdate"), r.Text("issuedworkenddate"))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ai, aj := active(ranked[i]), active(ranked[j])
		if ai != aj {
			return ai
		}
		return duration(ranked[i]) > duration(ranked[j])
	})
	return ranked
}

// topPermittees renders the n most frequent permittees as "NAME (count)".
func topPermittees(rows []soda.Row, n int) string {
	counts := countBy(rows, "permitteename")
	if len(counts) > n {
		counts = counts[:n]
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s (%d)", c.key, c.count)
	}
	return strings.Join(parts, ", ")
}

type keyCount struct {
	key   string
	count int
}

// countBy tallies the non-blank values of field, most frequent first. Ties
// keep first-seen order.
func countBy(rows []soda.Row, field string) []keyCount {
	index := make(map[string]int)
	var counts []keyCount
	for _, row := range rows {
		k := row.Text(field)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			counts[i].count++
			continue
		}
		index[k] = len(counts)
		counts = append(counts, keyCount{key: k, count: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	return counts
}
