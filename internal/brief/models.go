// Package brief assembles a neighborhood brief: it derives the per-request
// query context, fans out to the module builders and collects their output
// together with the map layer.
package brief

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blockbrief/blockbrief/internal/soda"
)

// ModuleID identifies one of the fixed brief modules.
type ModuleID string

// Module identifiers, in display order.
const (
	ModuleRightNow    ModuleID = "right_now"
	ModuleDOBPermits  ModuleID = "dob_permits"
	ModuleStreetWorks ModuleID = "street_works"
	ModuleCollisions  ModuleID = "collisions"
	Module311Pulse    ModuleID = "311_pulse"
	ModuleSanitation  ModuleID = "sanitation"
	ModuleEvents      ModuleID = "events"
	ModuleFilm        ModuleID = "film"
)

// ModuleOrder is the order modules appear in every brief.
var ModuleOrder = []ModuleID{
	ModuleRightNow,
	ModuleDOBPermits,
	ModuleStreetWorks,
	ModuleCollisions,
	Module311Pulse,
	ModuleSanitation,
	ModuleEvents,
	ModuleFilm,
}

// Status is a module's data health.
type Status string

// Module statuses.
const (
	StatusOK          Status = "ok"
	StatusPartial     Status = "partial"
	StatusUnavailable Status = "unavailable"
)

// StatValue is a stat's value, either a number or a display string.
type StatValue struct {
	num   float64
	text  string
	isNum bool
}

// Number returns a numeric StatValue.
func Number(v float64) StatValue {
	return StatValue{num: v, isNum: true}
}

// Count returns a numeric StatValue from an integer.
func Count(n int) StatValue {
	return Number(float64(n))
}

// Text returns a string StatValue.
func Text(s string) StatValue {
	return StatValue{text: s}
}

// IsNumber reports whether v holds a number.
func (v StatValue) IsNumber() bool {
	return v.isNum
}

// Float returns the numeric value. Text values are parsed, ignoring thousands
// separators; anything unparseable is 0.
func (v StatValue) Float() float64 {
	if v.isNum {
		return v.num
	}
	f, _ := soda.ParseNumber(v.text)
	return f
}

// String renders the value for display.
func (v StatValue) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings.
func (v StatValue) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts a JSON number or string.
func (v *StatValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("stat value: %w", err)
	}
	*v = Number(f)
	return nil
}

// Stat is one labelled figure on a module card.
type Stat struct {
	Label string    `json:"label"`
	Value StatValue `json:"value"`
	Unit  string    `json:"unit,omitempty"`
	Delta *float64  `json:"delta,omitempty"`
}

// Item is one detail row of a module.
type Item struct {
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	DateStart       string   `json:"date_start,omitempty"`
	DateEnd         string   `json:"date_end,omitempty"`
	LocationDesc    string   `json:"location_desc,omitempty"`
	URL             string   `json:"url,omitempty"`
	SourceDatasetID string   `json:"source_dataset_id"`
	RawID           string   `json:"raw_id,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lon             *float64 `json:"lon,omitempty"`
	GeometryWKT     string   `json:"geometry_wkt,omitempty"`
}

// SetPoint attaches a coordinate to the item.
func (it *Item) SetPoint(lat, lon float64) {
	it.Lat = &lat
	it.Lon = &lon
}

// Source cites a dataset a module drew on.
type Source struct {
	DatasetID   string `json:"dataset_id"`
	DatasetName string `json:"dataset_name"`
	DatasetURL  string `json:"dataset_url"`
}

// Module is the output of one builder.
type Module struct {
	ID           ModuleID `json:"id"`
	Headline     string   `json:"headline"`
	Status       Status   `json:"status"`
	Stats        []Stat   `json:"stats"`
	Items        []Item   `json:"items"`
	Methodology  string   `json:"methodology"`
	Sources      []Source `json:"sources"`
	Warnings     []string `json:"warnings,omitempty"`
	CoverageNote string   `json:"coverage_note,omitempty"`
}

// Stat returns the stat labelled label.
func (m *Module) Stat(label string) (Stat, bool) {
	for _, s := range m.Stats {
		if s.Label == label {
			return s, true
		}
	}
	return Stat{}, false
}

// StatFloat returns the numeric value of the stat labelled label, or 0.
func (m *Module) StatFloat(label string) float64 {
	s, ok := m.Stat(label)
	if !ok {
		return 0
	}
	return s.Value.Float()
}

// Input echoes what the caller asked for.
type Input struct {
	RawAddress          string   `json:"raw_address,omitempty"`
	NormalizedAddress   string   `json:"normalized_address"`
	GeoclientConfidence *float64 `json:"geoclient_confidence,omitempty"`
}

// Location is the resolved point and its identifiers as echoed in a brief.
type Location struct {
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	BBL               string  `json:"bbl,omitempty"`
	BIN               string  `json:"bin,omitempty"`
	Borough           string  `json:"borough,omitempty"`
	CommunityDistrict string  `json:"community_district,omitempty"`
	CouncilDistrict   string  `json:"council_district,omitempty"`
	ZipCode           string  `json:"zip_code,omitempty"`
}

// Parameters are the radii and windows a brief was computed with.
type Parameters struct {
	RadiusPrimaryM   float64 `json:"radius_primary_m"`
	RadiusSecondaryM float64 `json:"radius_secondary_m"`
	Window30d        string  `json:"window_30d"`
	Window90d        string  `json:"window_90d"`
}

// FeatureKind is the geometry type of a map feature.
type FeatureKind string

// Feature kinds.
const (
	FeaturePoint FeatureKind = "point"
	FeatureLine  FeatureKind = "line"
)

// MapFeature is a point or line derived from a module item.
type MapFeature struct {
	ID          string       `json:"id"`
	ModuleID    ModuleID     `json:"module_id"`
	Kind        FeatureKind  `json:"kind"`
	Label       string       `json:"label"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Center is the map center.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MapData is the map layer of a brief.
type MapData struct {
	Center           Center       `json:"center"`
	RadiusPrimaryM   float64      `json:"radius_primary_m"`
	RadiusSecondaryM float64      `json:"radius_secondary_m"`
	Features         []MapFeature `json:"features"`
}

// Response is a complete brief.
type Response struct {
	Input        Input      `json:"input"`
	Location     Location   `json:"location"`
	UpdatedAtUTC string     `json:"updated_at_utc"`
	Parameters   Parameters `json:"parameters"`
	Modules      []Module   `json:"modules"`
	Map          MapData    `json:"map"`
}

// Module returns the module with id, or nil.
func (r *Response) Module(id ModuleID) *Module {
	for i := range r.Modules {
		if r.Modules[i].ID == id {
			return &r.Modules[i]
		}
	}
	return nil
}

// Geocoder names the service that resolved a location.
type Geocoder string

// Known geocoders.
const (
	GeocoderGeoSearch Geocoder = "geosearch"
	GeocoderShareID   Geocoder = "share_id"
)

// ResolvedLocation is the geocoded input to a brief build.
type ResolvedLocation struct {
	NormalizedAddress string   `json:"normalized_address"`
	Geocoder          Geocoder `json:"geocoder"`
	Confidence        *float64 `json:"confidence,omitempty"`
	Lat               float64  `json:"lat"`
	Lon               float64  `json:"lon"`
	BBL               string   `json:"bbl,omitempty"`
	BIN               string   `json:"bin,omitempty"`
	Borough           string   `json:"borough,omitempty"`
	CommunityDistrict string   `json:"community_district,omitempty"`
	CouncilDistrict   string   `json:"council_district,omitempty"`
	ZipCode           string   `json:"zip_code,omitempty"`
}

// Sources builds citations for the given dataset ids from the catalog.
func Sources(ids ...string) []Source {
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		d := soda.MustLookup(id)
		out = append(out, Source{DatasetID: d.ID, DatasetName: d.Name, DatasetURL: d.URL})
	}
	return out
}

// NewModule returns an ok module with empty stats and items.
func NewModule(id ModuleID, headline string, sources []Source, methodology string) Module {
	return Module{
		ID:          id,
		Headline:    headline,
		Status:      StatusOK,
		Stats:       []Stat{},
		Items:       []Item{},
		Methodology: methodology,
		Sources:     sources,
	}
}

// UnavailableModule is what a builder returns when none of its datasets
// answered.
func UnavailableModule(id ModuleID, headline string, sources []Source, methodology, warning string) Module {
	return Module{
		ID:          id,
		Headline:    headline,
		Status:      StatusUnavailable,
		Stats:       []Stat{{Label: "Status", Value: Text("Data temporarily unavailable")}},
		Items:       []Item{},
		Methodology: methodology,
		Sources:     sources,
		Warnings:    []string{warning},
	}
}
