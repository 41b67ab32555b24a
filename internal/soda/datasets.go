// Package soda talks to the city's open-data portal: it builds SoQL filter
// expressions, runs dataset queries through a bounded, retrying client and
// keeps the catalog of datasets the brief draws on.
package soda

import (
	"sort"
	"time"
)

// Dataset identifiers on data.cityofnewyork.us.
const (
	DOBPermitIssuance  = "ipu4-2q9a"
	DOBNowPermits      = "rbx6-tga4"
	DOBComplaints      = "eabe-havv"
	DOBECBViolations   = "6bgk-3dad"
	StreetPermits      = "tqtj-sjs8"
	StreetOpenings     = "9jic-byiu"
	StreetClosures     = "i6b5-j7bu"
	Collisions         = "h9gi-nx95"
	ServiceRequests    = "erm2-nwe9"
	GarbageSchedule    = "p7k6-2pm8"
	DSNYFrequencies    = "rv63-53db"
	PermittedEvents    = "tvpp-9vvx"
	CommunityDistricts = "5crt-au7u"
	FilmPermits        = "tg4x-b46p"
)

// Dataset describes one upstream dataset.
type Dataset struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	TTL     time.Duration `json:"-"`
	Modules []string      `json:"modules"`
}

// TTLSeconds is the default result-cache lifetime in seconds.
func (d Dataset) TTLSeconds() int {
	return int(d.TTL / time.Second)
}

var catalog = map[string]Dataset{
	DOBPermitIssuance: {
		ID:      DOBPermitIssuance,
		Name:    "DOB Permit Issuance",
		URL:     "https://data.cityofnewyork.us/Housing-Development/DOB-Permit-Issuance/ipu4-2q9a",
		TTL:     15 * time.Minute,
		Modules: []string{"dob_permits"},
	},
	DOBNowPermits: {
		ID:      DOBNowPermits,
		Name:    "DOB NOW: Build – Approved Permits",
		URL:     "https://data.cityofnewyork.us/Housing-Development/DOB-NOW-Build-Approved-Permits/rbx6-tga4",
		TTL:     15 * time.Minute,
		Modules: []string{"dob_permits"},
	},
	DOBComplaints: {
		ID:      DOBComplaints,
		Name:    "DOB Complaints Received",
		URL:     "https://data.cityofnewyork.us/Housing-Development/DOB-Complaints-Received/eabe-havv",
		TTL:     15 * time.Minute,
		Modules: []string{"dob_permits"},
	},
	DOBECBViolations: {
		ID:      DOBECBViolations,
		Name:    "DOB ECB Violations",
		URL:     "https://data.cityofnewyork.us/Housing-Development/DOB-ECB-Violations/6bgk-3dad",
		TTL:     15 * time.Minute,
		Modules: []string{"dob_permits"},
	},
	StreetPermits: {
		ID:      StreetPermits,
		Name:    "Street Construction Permits (2022-Present)",
		URL:     "https://data.cityofnewyork.us/Transportation/Street-Construction-Permits-2022-Present/tqtj-sjs8",
		TTL:     15 * time.Minute,
		Modules: []string{"right_now", "street_works"},
	},
	StreetOpenings: {
		ID:      StreetOpenings,
		Name:    "Street Opening Permits",
		URL:     "https://data.cityofnewyork.us/Transportation/Street-Opening-Permits/9jic-byiu",
		TTL:     15 * time.Minute,
		Modules: []string{"street_works"},
	},
	StreetClosures: {
		ID:      StreetClosures,
		Name:    "Street Closures due to construction activities by Block",
		URL:     "https://data.cityofnewyork.us/Transportation/Street-Closures-due-to-construction-activities-by-/i6b5-j7bu",
		TTL:     15 * time.Minute,
		Modules: []string{"right_now", "street_works"},
	},
	Collisions: {
		ID:      Collisions,
		Name:    "Motor Vehicle Collisions - Crashes",
		URL:     "https://data.cityofnewyork.us/Public-Safety/Motor-Vehicle-Collisions-Crashes/h9gi-nx95",
		TTL:     15 * time.Minute,
		Modules: []string{"collisions"},
	},
	ServiceRequests: {
		ID:      ServiceRequests,
		Name:    "311 Service Requests from 2020 to Present",
		URL:     "https://data.cityofnewyork.us/Social-Services/311-Service-Requests-from-2020-to-Present/erm2-nwe9",
		TTL:     15 * time.Minute,
		Modules: []string{"311_pulse"},
	},
	GarbageSchedule: {
		ID:      GarbageSchedule,
		Name:    "Garbage Collection Schedule",
		URL:     "https://data.cityofnewyork.us/City-Government/Garbage-Collection-Schedule/p7k6-2pm8",
		TTL:     24 * time.Hour,
		Modules: []string{"sanitation"},
	},
	DSNYFrequencies: {
		ID:      DSNYFrequencies,
		Name:    "DSNY Frequencies",
		URL:     "https://data.cityofnewyork.us/City-Government/DSNY-Frequencies/rv63-53db",
		TTL:     24 * time.Hour,
		Modules: []string{"sanitation"},
	},
	PermittedEvents: {
		ID:      PermittedEvents,
		Name:    "NYC Permitted Event Information",
		URL:     "https://data.cityofnewyork.us/City-Government/NYC-Permitted-Event-Information/tvpp-9vvx",
		TTL:     30 * time.Minute,
		Modules: []string{"events"},
	},
	CommunityDistricts: {
		ID:      CommunityDistricts,
		Name:    "Community Districts",
		URL:     "https://data.cityofnewyork.us/City-Government/Community-Districts/5crt-au7u",
		TTL:     24 * time.Hour,
		Modules: []string{"events"},
	},
	FilmPermits: {
		ID:      FilmPermits,
		Name:    "Film Permits",
		URL:     "https://data.cityofnewyork.us/City-Government/Film-Permits/tg4x-b46p",
		TTL:     30 * time.Minute,
		Modules: []string{"right_now", "film"},
	},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Dataset, bool) {
	d, ok := catalog[id]
	return d, ok
}

// MustLookup returns the catalog entry for id and panics if it is unknown.
// Only use it with the constants above.
func MustLookup(id string) Dataset {
	d, ok := catalog[id]
	if !ok {
		panic("soda: unknown dataset " + id)
	}
	return d
}

// Datasets returns the whole catalog ordered by id.
func Datasets() []Dataset {
	out := make([]Dataset, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
