package modules

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

const dobMethodology = "last 90 days for permits/complaints, last 12 months for ECB violations; radius match where geometry exists and BIN/BBL fallback for non-geocoded datasets"

// DOBPermits builds the building activity module from DOB permits,
// complaints and ECB violations.
type DOBPermits struct {
	deps Deps
}

// NewDOBPermits creates the dob_permits builder.
func NewDOBPermits(deps Deps) *DOBPermits {
	return &DOBPermits{deps: deps}
}

// ID implements brief.Builder.
func (b *DOBPermits) ID() brief.ModuleID { return brief.ModuleDOBPermits }

// Build implements brief.Builder.
func (b *DOBPermits) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.DOBPermitIssuance, soda.DOBNowPermits, soda.DOBComplaints, soda.DOBECBViolations)
	loc := qc.Location
	box := geo.BoundingBox(loc.Lat, loc.Lon, qc.RadiusSecondaryM)
	day := qc.DayBucket()
	block, lot, hasBBL := SplitBBL(loc.BBL)
	bin := strings.TrimSpace(loc.BIN)

	issuance := &request{
		dataset: soda.DOBPermitIssuance,
		purpose: "radius",
		window:  day,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "permit_si_no, work_type, issuance_date, house__, street_name, permittee_s_business_name, gis_latitude, gis_longitude",
			Where: soda.And(
				soda.CompareCast("issuance_date", ">=", qc.Window90d),
				soda.NumberBetween("gis_latitude::number", box.MinLat, box.MaxLat),
				soda.NumberBetween("gis_longitude::number", box.MinLon, box.MaxLon),
			),
			Order: "issuance_date DESC",
			Limit: 900,
		},
	}
	approved := &request{
		dataset: soda.DOBNowPermits,
		purpose: "radius",
		window:  day,
		ttl:     ttlShort,
		query: soda.Query{
			Select: "tracking_number, work_type, issued_date, latitude, longitude, street_name, house_no, permit_status",
			Where: soda.And(
				soda.CompareISO("issued_date", ">=", qc.Window90d),
				soda.NumberBetween("latitude", box.MinLat, box.MaxLat),
				soda.NumberBetween("longitude", box.MinLon, box.MaxLon),
			),
			Order: "issued_date DESC",
			Limit: 900,
		},
	}

	var complaints *request
	if bin != "" {
		complaints = &request{
			dataset: soda.DOBComplaints,
			purpose: "bin",
			window:  day,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "complaint_category, status, count(*) as count",
				Where: soda.And(
					soda.CompareCast("date_entered", ">=", qc.Window90d),
					soda.Equals("bin", bin),
				),
				Group: "complaint_category, status",
				Order: "count(*) DESC",
				Limit: 40,
			},
		}
	}

	var violations, entities *request
	if hasBBL || bin != "" {
		where := soda.And(
			"issue_date >= "+soda.CompactDate(qc.Window12m),
			soda.Equals("block", block),
			soda.Equals("lot", lot),
			soda.Equals("bin", bin),
		)
		violations = &request{
			dataset: soda.DOBECBViolations,
			purpose: "agg",
			window:  day,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "count(*) as count, max(issue_date) as latest",
				Where:  where,
				Limit:  1,
			},
		}
		entities = &request{
			dataset: soda.DOBECBViolations,
			purpose: "entities",
			window:  day,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "respondent_name, count(*) as count",
				Where:  where,
				Group:  "respondent_name",
				Order:  "count(*) DESC",
				Limit:  3,
			},
		}
	}

	outs := b.deps.settle(ctx, qc.BlockKey, issuance, approved, complaints, violations, entities)
	warnings := b.deps.failures(brief.ModuleDOBPermits, outs, []string{
		soda.DOBPermitIssuance, soda.DOBNowPermits, soda.DOBComplaints, soda.DOBECBViolations, soda.DOBECBViolations,
	})
	if allFailed(outs) {
		return brief.UnavailableModule(brief.ModuleDOBPermits,
			"DOB permit and complaint data is temporarily unavailable.",
			sources, dobMethodology, joinWarnings(warnings)), nil
	}

	issued := withinRadius(outs[0].rows, "gis_latitude", "gis_longitude", qc)
	approvedRows := withinRadius(outs[1].rows, "latitude", "longitude", qc)
	permitCount := len(issued) + len(approvedRows)

	all := make([]soda.Row, 0, permitCount)
	all = append(all, issued...)
	all = append(all, approvedRows...)
	workTypes := countBy(all, "work_type")
	topWorkType := "N/A"
	if len(workTypes) > 0 {
		topWorkType = workTypes[0].key
	}

	complaintRows := make([]soda.Row, len(outs[2].rows))
	copy(complaintRows, outs[2].rows)
	sort.SliceStable(complaintRows, func(i, j int) bool {
		return complaintRows[i].Int("count") > complaintRows[j].Int("count")
	})
	complaintTotal, openComplaints := 0, 0
	for _, row := range complaintRows {
		n := row.Int("count")
		complaintTotal += n
		if strings.Contains(strings.ToLower(row.Text("status")), "open") {
			openComplaints += n
		}
	}

	violationCount, latestViolation := 0, ""
	if len(outs[3].rows) > 0 {
		violationCount = outs[3].rows[0].Int("count")
		latestViolation = outs[3].rows[0].Text("latest")
	}

	if bin == "" {
		warnings = append(warnings, "BIN metadata missing; DOB complaints are likely undercounted for this query.")
	}
	if !hasBBL {
		warnings = append(warnings, "BBL metadata missing; ECB violation matching uses available BIN only.")
	}

	headline := "No recent DOB permit activity was found within the selected radius."
	if permitCount > 0 {
		headline = fmt.Sprintf("%d DOB permits were issued/approved nearby in the last 90 days.", permitCount)
	}

	m := brief.NewModule(brief.ModuleDOBPermits, headline, sources, dobMethodology)
	m.Stats = []brief.Stat{
		{Label: "DOB permits (90d)", Value: brief.Count(permitCount)},
		{Label: "Top work type", Value: brief.Text(topWorkType)},
		{Label: "DOB complaints (90d)", Value: brief.Count(complaintTotal)},
		{Label: "ECB violations (12m)", Value: brief.Count(violationCount)},
	}
	if latestViolation != "" {
		m.Stats = append(m.Stats, brief.Stat{Label: "Latest ECB issue date", Value: brief.Text(latestViolation)})
	}
	if complaintTotal > 0 {
		m.Stats = append(m.Stats, brief.Stat{Label: "Open complaints", Value: brief.Count(openComplaints)})
	}

	items := make([]brief.Item, 0, brief.ItemLimit)
	for _, wt := range workTypes[:min(3, len(workTypes))] {
		items = append(items, brief.Item{
			Title:           "Work type: " + wt.key,
			Subtitle:        strconv.Itoa(wt.count) + " permits",
			SourceDatasetID: soda.DOBPermitIssuance,
		})
	}
	for _, row := range limit(complaintRows, 5) {
		items = append(items, brief.Item{
			Title:           "Complaint category " + firstNonEmpty(row.Text("complaint_category"), "Unknown"),
			Subtitle:        fmt.Sprintf("%d reports (%s)", row.Int("count"), firstNonEmpty(row.Text("status"), "unknown status")),
			SourceDatasetID: soda.DOBComplaints,
		})
	}
	for _, row := range outs[4].rows {
		items = append(items, brief.Item{
			Title:           firstNonEmpty(row.Text("respondent_name"), "Unnamed respondent"),
			Subtitle:        fmt.Sprintf("%d violations in last 12 months", row.Int("count")),
			SourceDatasetID: soda.DOBECBViolations,
		})
	}
	for _, row := range limit(issued, 4) {
		address := joinNonEmpty(" ", row.Text("house__"), row.Text("street_name"))
		it := brief.Item{
			Title:           firstNonEmpty(address, "DOB permit"),
			Subtitle:        firstNonEmpty(row.Text("work_type"), "Unknown work type") + " · " + firstNonEmpty(row.Text("permittee_s_business_name"), "Unknown permittee"),
			LocationDesc:    address,
			SourceDatasetID: soda.DOBPermitIssuance,
			RawID:           row.Text("permit_si_no"),
		}
		if t, ok := timeutil.Parse(row.Text("issuance_date")); ok {
			it.DateStart = timeutil.ISO(t)
		}
		if lat, lon, ok := rowPoint(row, "gis_latitude", "gis_longitude"); ok {
			it.SetPoint(lat, lon)
		}
		items = append(items, it)
	}
	m.Items = capItems(items)

	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
		m.CoverageNote = "Non-geocoded DOB datasets rely on BIN/BBL matching in v1."
	}
	return m, nil
}

// SplitBBL splits a 10-digit borough-block-lot id into its block and lot
// parts. Non-digits are ignored; any other length reports false.
func SplitBBL(bbl string) (block, lot string, ok bool) {
	var digits strings.Builder
	for _, r := range bbl {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 10 {
		return "", "", false
	}
	return d[1:6], d[6:], true
}

// withinRadius keeps rows whose coordinates fall inside the secondary
// radius. Bounding-box queries over-select at the corners.
func withinRadius(rows []soda.Row, latKey, lonKey string, qc *brief.QueryContext) []soda.Row {
	kept := make([]soda.Row, 0, len(rows))
	for _, row := range rows {
		lat, lon, ok := rowPoint(row, latKey, lonKey)
		if !ok {
			continue
		}
		if geo.Haversine(qc.Location.Lat, qc.Location.Lon, lat, lon) <= qc.RadiusSecondaryM {
			kept = append(kept, row)
		}
	}
	return kept
}
