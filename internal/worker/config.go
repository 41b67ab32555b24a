// Package worker provides background brief pre-warming for Block Brief.
package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockbrief/blockbrief/internal/brief"
)

// Target is one block whose brief is kept warm.
type Target struct {
	// Name is the human-readable name of the target, used in logs.
	Name string

	// BlockID is the shareable block id of the target.
	BlockID string

	Location brief.ResolvedLocation
}

// PrewarmConfig holds configuration for the brief pre-warm job.
type PrewarmConfig struct {
	// Targets are the blocks to pre-warm.
	// If empty, uses DefaultTargets.
	Targets []Target

	// Concurrency is the number of briefs built at once. Each brief already
	// fans out to every dataset, so keep this small.
	// Default: 2
	Concurrency int

	// Timeout bounds each brief build.
	// Default: 60 seconds
	Timeout time.Duration
}

// DefaultPrewarmConfig returns the default pre-warm configuration.
func DefaultPrewarmConfig() PrewarmConfig {
	return PrewarmConfig{
		Targets:     DefaultTargets(),
		Concurrency: 2,
		Timeout:     60 * time.Second,
	}
}

// DefaultTargets returns a handful of busy blocks across the five boroughs.
func DefaultTargets() []Target {
	landmarks := []struct {
		name    string
		address string
		borough string
		lat     float64
		lon     float64
	}{
		{"Times Square", "1560 Broadway, Manhattan, NY 10036", "Manhattan", 40.7580, -73.9855},
		{"Union Square", "33 Union Sq W, Manhattan, NY 10003", "Manhattan", 40.7359, -73.9911},
		{"Downtown Brooklyn", "375 Fulton St, Brooklyn, NY 11201", "Brooklyn", 40.6913, -73.9877},
		{"Jackson Heights", "82-11 37th Ave, Queens, NY 11372", "Queens", 40.7497, -73.8844},
		{"Fordham Road", "2501 Grand Concourse, Bronx, NY 10468", "Bronx", 40.8625, -73.8981},
		{"St. George", "1 Bay St, Staten Island, NY 10301", "Staten Island", 40.6437, -74.0736},
	}

	targets := make([]Target, 0, len(landmarks))
	for _, l := range landmarks {
		loc := brief.ResolvedLocation{
			NormalizedAddress: l.address,
			Geocoder:          brief.GeocoderShareID,
			Lat:               l.lat,
			Lon:               l.lon,
			Borough:           l.borough,
		}
		targets = append(targets, Target{
			Name:     l.name,
			BlockID:  brief.EncodeBlockID(brief.PayloadFromLocation(loc)),
			Location: loc,
		})
	}
	return targets
}

// TargetsFromBlockIDs decodes share ids into targets. Blank ids are skipped;
// every malformed id is reported in the joined error.
func TargetsFromBlockIDs(ids []string) ([]Target, error) {
	var (
		targets []Target
		errs    []error
	)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		payload, err := brief.DecodeBlockID(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("block %q: %w", id, err))
			continue
		}
		loc := payload.Location()
		targets = append(targets, Target{Name: loc.NormalizedAddress, BlockID: id, Location: loc})
	}
	return targets, errors.Join(errs...)
}
