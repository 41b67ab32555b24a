package modules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/geo"
	"github.com/blockbrief/blockbrief/internal/soda"
)

// Collisions builds the crash module with a greedy hotspot cluster.
type Collisions struct {
	deps Deps
}

// NewCollisions creates the collisions builder.
func NewCollisions(deps Deps) *Collisions {
	return &Collisions{deps: deps}
}

// ID implements brief.Builder.
func (b *Collisions) ID() brief.ModuleID { return brief.ModuleCollisions }

// Build implements brief.Builder.
func (b *Collisions) Build(ctx context.Context, qc *brief.QueryContext) (brief.Module, error) {
	sources := brief.Sources(soda.Collisions)
	methodology := fmt.Sprintf("within %sm; last 90 days; clusters by %sm for hotspot",
		geo.FormatCoord(qc.RadiusSecondaryM), geo.FormatCoord(brief.ClusterRadiusM))
	loc := qc.Location

	where := soda.And(
		soda.WithinCircle("location", loc.Lat, loc.Lon, qc.RadiusSecondaryM),
		soda.CompareISO("crash_date", ">=", qc.Window90d),
		soda.NotNull("latitude"),
		soda.NotNull("longitude"),
	)
	window := qc.DayBucket()

	outs := b.deps.settle(ctx, qc.BlockKey,
		&request{
			dataset: soda.Collisions,
			purpose: "agg",
			window:  window,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "count(*) as crashes, sum(number_of_persons_injured) as injuries",
				Where:  where,
				Limit:  1,
			},
		},
		&request{
			dataset: soda.Collisions,
			purpose: "rows",
			window:  window,
			ttl:     ttlShort,
			query: soda.Query{
				Select: "collision_id, crash_date, crash_time, on_street_name, cross_street_name, off_street_name, latitude, longitude, number_of_persons_injured",
				Where:  where,
				Order:  "crash_date DESC",
				Limit:  300,
			},
		},
	)
	warnings := b.deps.failures(brief.ModuleCollisions, outs, []string{soda.Collisions, soda.Collisions})
	if allFailed(outs) {
		return brief.UnavailableModule(brief.ModuleCollisions,
			"Collision data is temporarily unavailable.",
			sources, methodology, joinWarnings(warnings)), nil
	}

	rows := outs[1].rows
	crashes := len(rows)
	injuries := 0
	if len(outs[0].rows) > 0 {
		agg := outs[0].rows[0]
		crashes = agg.Int("crashes")
		injuries = agg.Int("injuries")
	} else {
		for _, row := range rows {
			injuries += row.Int("number_of_persons_injured")
		}
	}

	points := make([]ClusterPoint, 0, len(rows))
	for _, row := range rows {
		lat, lon, ok := rowPoint(row, "latitude", "longitude")
		if !ok {
			continue
		}
		points = append(points, ClusterPoint{Lat: lat, Lon: lon, Label: intersectionLabel(row)})
	}
	clusters := ClusterPoints(points, brief.ClusterRadiusM)

	hotspotLabel := "No hotspot"
	hotspotCount := 0
	if len(clusters) > 0 {
		hotspotLabel = clusters[0].TopLabel()
		hotspotCount = len(clusters[0].Points)
	}

	headline := "No recent crashes were found in this radius during the last 90 days."
	if crashes > 0 {
		headline = fmt.Sprintf("%d crashes reported nearby in the last 90 days, including %d injuries.", crashes, injuries)
	}

	m := brief.NewModule(brief.ModuleCollisions, headline, sources, methodology)
	m.Stats = []brief.Stat{
		{Label: "Crashes (90d)", Value: brief.Count(crashes)},
		{Label: "Injuries (90d)", Value: brief.Count(injuries)},
		{Label: "Hot intersection", Value: brief.Text(hotspotLabel)},
		{Label: "Hotspot crashes", Value: brief.Count(hotspotCount)},
	}

	sorted := make([]soda.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Float("number_of_persons_injured") > sorted[j].Float("number_of_persons_injured")
	})

	items := make([]brief.Item, 0, brief.ItemLimit)
	for _, row := range limit(sorted, brief.ItemLimit) {
		label := intersectionLabel(row)
		_, _, timeKnown := parseCrashTime(row.Text("crash_time"))
		subtitle := strconv.Itoa(row.Int("number_of_persons_injured")) + " injuries"
		if !timeKnown {
			subtitle += " · Time not reported"
		}
		it := brief.Item{
			Title:           firstNonEmpty(label, "Collision record"),
			Subtitle:        subtitle,
			DateStart:       crashDateTime(row.Text("crash_date"), row.Text("crash_time")),
			LocationDesc:    label,
			SourceDatasetID: soda.Collisions,
			RawID:           row.Text("collision_id"),
		}
		if lat, lon, ok := rowPoint(row, "latitude", "longitude"); ok {
			it.SetPoint(lat, lon)
		}
		items = append(items, it)
	}
	m.Items = items

	if len(warnings) > 0 {
		m.Status = brief.StatusPartial
		m.Warnings = warnings
	}
	return m, nil
}

// intersectionLabel is "ON & CROSS", using the off-street name when no cross
// street is recorded.
func intersectionLabel(row soda.Row) string {
	return joinNonEmpty(" & ", row.Text("on_street_name"), firstNonEmpty(row.Text("cross_street_name"), row.Text("off_street_name")))
}

var crashTimePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

func parseCrashTime(value string) (hour, minute int, ok bool) {
	match := crashTimePattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(match[1])
	minute, _ = strconv.Atoi(match[2])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// crashDateTime combines the date part of crash_date with crash_time when
// the time is well formed.
func crashDateTime(date, clock string) string {
	datePart, _, _ := strings.Cut(date, "T")
	if datePart == "" {
		return ""
	}
	hour, minute, ok := parseCrashTime(clock)
	if !ok {
		return datePart
	}
	return fmt.Sprintf("%sT%02d:%02d:00", datePart, hour, minute)
}

// ClusterPoint is one crash location fed to ClusterPoints.
type ClusterPoint struct {
	Lat   float64
	Lon   float64
	Label string
}

// Cluster is a group of nearby crashes around a running centroid.
type Cluster struct {
	Points    []ClusterPoint
	CenterLat float64
	CenterLon float64
}

// TopLabel returns the most frequent intersection label in c. Ties go to the
// label seen first; unnamed points count as "Unnamed intersection".
func (c Cluster) TopLabel() string {
	index := make(map[string]int)
	var counts []keyCount
	for _, p := range c.Points {
		label := firstNonEmpty(p.Label, "Unnamed intersection")
		if i, ok := index[label]; ok {
			counts[i].count++
			continue
		}
		index[label] = len(counts)
		counts = append(counts, keyCount{key: label, count: 1})
	}

	winner, best := "No hotspot", 0
	for _, kc := range counts {
		if kc.count > best {
			winner, best = kc.key, kc.count
		}
	}
	return winner
}

// ClusterPoints groups points in a single greedy pass: each point joins the
// first existing cluster whose centroid is within radiusM, else it starts a
// new one. The centroid is the mean of the members after every join, so the
// result depends on input order. Clusters are returned largest first; equal
// sizes keep creation order.
func ClusterPoints(points []ClusterPoint, radiusM float64) []Cluster {
	var clusters []Cluster
	for _, p := range points {
		joined := false
		for i := range clusters {
			c := &clusters[i]
			if geo.Haversine(p.Lat, p.Lon, c.CenterLat, c.CenterLon) > radiusM {
				continue
			}
			c.Points = append(c.Points, p)
			var sumLat, sumLon float64
			for _, m := range c.Points {
				sumLat += m.Lat
				sumLon += m.Lon
			}
			c.CenterLat = sumLat / float64(len(c.Points))
			c.CenterLon = sumLon / float64(len(c.Points))
			joined = true
			break
		}
		if !joined {
			clusters = append(clusters, Cluster{
				Points:    []ClusterPoint{p},
				CenterLat: p.Lat,
				CenterLon: p.Lon,
			})
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Points) > len(clusters[j].Points)
	})
	return clusters
}
