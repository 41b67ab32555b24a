package modules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

const eventsMethodology = "next 30 days; community district match with borough fallback; ranked by district, street closure, street name and non-sport relevance"

// Relevance weights for permitted events.
const (
	scoreDistrict = 5
	scoreClosure  = 3
	scoreStreet   = 2
	scoreNonSport = 1
)

// Trim thresholds for large candidate pools.
const (
	eventTrimAbove = 30
	eventTrimFloor = 8
)

// Events builds the permitted events module.
type Events struct {
	deps Deps
}

// NewEvents creates the events builder.
func NewEvents(deps Deps) *Events {
	return &Events{deps: deps}
}

// ID implements brief.Builder.
func (b *Events) ID() brief.ModuleID { return brief.ModuleEvents }

// Build implements brief.Builder.
func (b *Events) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.PermittedEvents, soda.CommunityDistricts)
	loc := qc.Location
	day := qc.DayBucket()

	events := &request{
		dataset: soda.PermittedEvents,
		purpose: "upcoming",
		window:  day,
		ttl:     ttlHalf,
		query: soda.Query{
			Select: "event_id, event_name, event_type, event_location, event_borough, start_date_time, end_date_time, community_board, street_closure_type",
			Where: soda.And(
				soda.TimeRange("start_date_time", qc.Now, timeutil.DaysAhead(qc.Now, 30)),
				soda.BoroughEquals("event_borough", loc.Borough),
				soda.NotNull("event_name"),
			),
			Order: "start_date_time ASC",
			Limit: 200,
		},
	}

	var district *request
	if firstDistrict(loc.CommunityDistrict) == "" {
		district = &request{
			dataset: soda.CommunityDistricts,
			purpose: "boundary",
			window:  "static",
			ttl:     ttlDaily,
			query: soda.Query{
				Select: "boro_cd",
				Where:  soda.Intersects("the_geom", loc.Lon, loc.Lat),
				Limit:  1,
			},
		}
	}

	outs := b.deps.settle(ctx, qc.BlockKey, events, district)
	if outs[0].err != nil {
		warnDegraded(b.deps.Logger, brief.ModuleEvents, soda.PermittedEvents, outs[0].err)
		return brief.UnavailableModule(brief.ModuleEvents,
			"Events data is temporarily unavailable.",
			sources, eventsMethodology, datasetWarning(soda.PermittedEvents, outs[0].err)), nil
	}

	var warnings []string
	cd := firstDistrict(loc.CommunityDistrict)
	if district != nil {
		if outs[1].err != nil {
			warnDegraded(b.deps.Logger, brief.ModuleEvents, soda.CommunityDistricts, outs[1].err)
			warnings = append(warnings, datasetWarning(soda.CommunityDistricts, outs[1].err))
		} else if len(outs[1].rows) > 0 {
			cd = firstDistrict(outs[1].rows[0].Text("boro_cd"))
		}
	}

	ranked := RankEvents(outs[0].rows, cd, StreetToken(loc.NormalizedAddress))

	headline := "No upcoming permitted events were found for this area in the next 30 days."
	if len(ranked) > 0 {
		headline = fmt.Sprintf("%d permitted events are scheduled in the next 30 days for this area.", len(ranked))
	}

	m := brief.NewModule(brief.ModuleEvents, headline, sources, eventsMethodology)
	nextEvent, starts := "None", "N/A"
	if next := soonest(ranked); next != nil {
		nextEvent = firstNonEmpty(next.Text("event_name"), "Permitted event")
		if t, ok := timeutil.Parse(next.Text("start_date_time")); ok {
			starts = t.Format("2006-01-02")
		}
	}
	m.Stats = []brief.Stat{
		{Label: "Upcoming events", Value: brief.Count(len(ranked))},
		{Label: "Next event", Value: brief.Text(nextEvent)},
		{Label: "Starts", Value: brief.Text(starts)},
	}
	for _, row := range limit(ranked, brief.ItemLimit) {
		m.Items = append(m.Items, brief.Item{
			Title:           firstNonEmpty(row.Text("event_name"), "Permitted event"),
			Subtitle:        row.Text("event_type"),
			DateStart:       row.Text("start_date_time"),
			DateEnd:         row.Text("end_date_time"),
			LocationDesc:    row.Text("event_location"),
			SourceDatasetID: soda.PermittedEvents,
			RawID:           row.Text("event_id"),
		})
	}

	if cd == "" {
		m.CoverageNote = "This module uses borough-level filtering because community district metadata was not available for the query."
	}
	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
	}
	return m, nil
}

// RankEvents filters and orders event rows by relevance to a community
// district and a street token. Either may be empty.
func RankEvents(rows []soda.Row, district, street string) []soda.Row {
	type scored struct {
		row    soda.Row
		score  int
		start  time.Time
		signal bool
	}

	pool := make([]scored, 0, len(rows))
	matched := make([]scored, 0, len(rows))
	for _, row := range rows {
		s := scored{row: row}
		inDistrict := district != "" && districtMatches(row.Text("community_board"), district)
		closure := row.Has("street_closure_type")
		onStreet := street != "" && strings.Contains(normalizeStreetText(row.Text("event_location")), street)
		nonSport := !isSportEvent(row.Text("event_type"))
		if inDistrict {
			s.score += scoreDistrict
		}
		if closure {
			s.score += scoreClosure
		}
		if onStreet {
			s.score += scoreStreet
		}
		if nonSport {
			s.score += scoreNonSport
		}
		s.signal = closure || onStreet || nonSport
		s.start, _ = timeutil.Parse(row.Text("start_date_time"))
		pool = append(pool, s)
		if inDistrict {
			matched = append(matched, s)
		}
	}
	if len(matched) > 0 {
		pool = matched
	}

	if len(pool) > eventTrimAbove {
		trimmed := make([]scored, 0, len(pool))
		for _, s := range pool {
			if s.signal {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) >= eventTrimFloor {
			pool = trimmed
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].start.Before(pool[j].start)
	})

	out := make([]soda.Row, len(pool))
	for i, s := range pool {
		out[i] = s.row
	}
	return out
}

func soonest(rows []soda.Row) soda.Row {
	var (
		best  soda.Row
		first time.Time
	)
	for _, row := range rows {
		t, ok := timeutil.Parse(row.Text("start_date_time"))
		if !ok {
			continue
		}
		if best == nil || t.Before(first) {
			best, first = row, t
		}
	}
	if best == nil && len(rows) > 0 {
		return rows[0]
	}
	return best
}

func isSportEvent(eventType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(eventType)), "sport")
}

var digitRuns = regexp.MustCompile(`\d+`)

// DistrictTokens extracts community district numbers from free text such as
// "Manhattan Community Board 5" or a 3-digit boro_cd like "105". Leading
// zeros are dropped.
func DistrictTokens(value string) []string {
	var tokens []string
	for _, run := range digitRuns.FindAllString(value, -1) {
		if len(run) == 3 {
			run = run[1:]
		}
		run = strings.TrimLeft(run, "0")
		if run != "" {
			tokens = append(tokens, run)
		}
	}
	return tokens
}

func firstDistrict(value string) string {
	tokens := DistrictTokens(value)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

func districtMatches(board, district string) bool {
	for _, t := range DistrictTokens(board) {
		if t == district {
			return true
		}
	}
	return false
}

var (
	ordinalSuffix = regexp.MustCompile(`(\d+)(ST|ND|RD|TH)\b`)
	houseNumber   = regexp.MustCompile(`^\d+[A-Z]?(-\d+)?\s+`)
	numericWord   = regexp.MustCompile(`^\d+$`)
)

var genericStreetWords = map[string]bool{
	"EAST": true, "WEST": true, "NORTH": true, "SOUTH": true,
	"E": true, "W": true, "N": true, "S": true,
	"STREET": true, "ST": true, "AVENUE": true, "AVE": true,
	"ROAD": true, "RD": true, "PLACE": true, "PL": true,
	"BOULEVARD": true, "BLVD": true, "DRIVE": true, "LANE": true,
	"PARKWAY": true, "THE": true, "OF": true,
}

func normalizeStreetText(value string) string {
	return ordinalSuffix.ReplaceAllString(strings.ToUpper(value), "$1")
}

// StreetToken picks the distinctive part of an address's street name for
// matching event location text: "350 5th Avenue, Manhattan" gives
// "5 AVENUE" and "1 Broadway" gives "BROADWAY". Returns "" when nothing
// usable remains.
func StreetToken(address string) string {
	street, _, _ := strings.Cut(address, ",")
	street = normalizeStreetText(strings.TrimSpace(street))
	street = houseNumber.ReplaceAllString(street, "")

	words := strings.Fields(street)
	for i, w := range words {
		if numericWord.MatchString(w) {
			if i+1 < len(words) {
				return w + " " + words[i+1]
			}
			return w
		}
	}
	for _, w := range words {
		if len(w) >= 3 && !genericStreetWords[w] {
			return w
		}
	}
	return ""
}
