package modules

import (
	"context"
	"fmt"
	"strconv"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

// Pulse311 builds the 311 request pulse: the current 30 days against the
// prior 30 and the top complaint types.
type Pulse311 struct {
	deps Deps
}

// NewPulse311 creates the 311_pulse builder.
func NewPulse311(deps Deps) *Pulse311 {
	return &Pulse311{deps: deps}
}

// ID implements brief.Builder.
func (b *Pulse311) ID() brief.ModuleID { return brief.Module311Pulse }

// Build implements brief.Builder.
func (b *Pulse311) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.ServiceRequests)
	methodology := fmt.Sprintf("within %sm; top complaint types from last 30 days; delta vs prior 30 days",
		geo.FormatCoord(qc.RadiusSecondaryM))
	loc := qc.Location
	circle := soda.WithinCircle("location", loc.Lat, loc.Lon, qc.RadiusSecondaryM)
	current := soda.And(circle, soda.CompareISO("created_date", ">=", qc.Window30d))
	day := qc.DayBucket()

	outs := b.deps.settle(ctx, qc.BlockKey,
		&request{
			dataset: soda.ServiceRequests,
			purpose: "current",
			window:  day,
			ttl:     ttlShort,
			query:   soda.Query{Select: "count(*) as count", Where: current, Limit: 1},
		},
		&request{
			dataset: soda.ServiceRequests,
			purpose: "prior",
			window:  day,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "count(*) as count",
				Where:  soda.And(circle, soda.TimeRange("created_date", timeutil.DaysAgo(qc.Window30d, 30), qc.Window30d)),
				Limit:  1,
			},
		},
		&request{
			dataset: soda.ServiceRequests,
			purpose: "top",
			window:  day,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "complaint_type, count(*) as count",
				Where:  current,
				Group:  "complaint_type",
				Order:  "count(*) DESC",
				Limit:  5,
			},
		},
	)
	warnings := b.deps.failures(brief.Module311Pulse, outs, []string{soda.ServiceRequests, soda.ServiceRequests, soda.ServiceRequests})
	if allFailed(outs) {
		return brief.UnavailableModule(brief.Module311Pulse,
			"311 request data is temporarily unavailable.",
			sources, methodology, joinWarnings(warnings)), nil
	}

	currentCount := firstCount(outs[0].rows)
	priorCount := firstCount(outs[1].rows)
	delta := float64(currentCount - priorCount)
	top := outs[2].rows

	topIssue := "No dominant type"
	if len(top) > 0 {
		topIssue = firstNonEmpty(top[0].Text("complaint_type"), topIssue)
	}

	headline := "No 311 requests were found in this radius during the last 30 days."
	if currentCount > 0 {
		headline = fmt.Sprintf("%d recent 311 requests were filed nearby in the last 30 days.", currentCount)
	}

	m := brief.NewModule(brief.Module311Pulse, headline, sources, methodology)
	m.Stats = []brief.Stat{
		{Label: "Requests (30d)", Value: brief.Count(currentCount), Delta: &delta},
		{Label: "Prior period", Value: brief.Count(priorCount)},
		{Label: "Top issue", Value: brief.Text(topIssue)},
	}
	for _, row := range top {
		m.Items = append(m.Items, brief.Item{
			Title:           firstNonEmpty(row.Text("complaint_type"), "Unknown issue"),
			Subtitle:        strconv.Itoa(row.Int("count")) + " requests",
			SourceDatasetID: soda.ServiceRequests,
		})
	}

	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
	}
	return m, nil
}

// firstCount reads the "count" column of an aggregate result.
func firstCount(rows []soda.Row) int {
	if len(rows) == 0 {
		return 0
	}
	return rows[0].Int("count")
}
