// Package modules holds the eight brief module builders. Each builder fans
// out to one or more dataset queries through the shared result cache and
// degrades to a partial or unavailable module instead of returning an error.
package modules

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/soda"
)

// Cache lifetimes for result-cache entries.
const (
	ttlShort = 15 * time.Minute
	ttlHalf  = 30 * time.Minute
	ttlDaily = 24 * time.Hour
)

// Deps are the collaborators every builder needs.
type Deps struct {
	Querier soda.Querier
	Cache   *cache.Cache
	Logger  zerolog.Logger
}

// All returns the builders in module order.
func All(deps Deps) []brief.Builder {
	return []brief.Builder{
		NewRightNow(deps),
		NewDOBPermits(deps),
		NewStreetWorks(deps),
		NewCollisions(deps),
		NewPulse311(deps),
		NewSanitation(deps),
		NewEvents(deps),
		NewFilm(deps),
	}
}

// request is one dataset query plus its result-cache identity.
type request struct {
	dataset string
	purpose string
	window  string
	ttl     time.Duration
	query   soda.Query
}

// outcome is the settled result of one request. A skipped outcome stands in
// for a query the builder chose not to run.
type outcome struct {
	rows    []soda.Row
	err     error
	skipped bool
}

func (d Deps) fetch(ctx context.Context, blockKey string, r request) ([]soda.Row, error) {
	load := func(ctx context.Context) ([]soda.Row, error) {
		return d.Querier.Query(ctx, r.dataset, r.query, soda.CacheFor(r.ttl))
	}
	if d.Cache == nil {
		return load(ctx)
	}
	key := cache.Key(r.dataset, r.purpose, blockKey, r.window)
	return cache.GetOrLoad(ctx, d.Cache, key, r.ttl, load)
}

// settle runs every request concurrently and waits for all of them. A nil
// entry in reqs yields an empty, successful outcome.
func (d Deps) settle(ctx context.Context, blockKey string, reqs ...*request) []outcome {
	out := make([]outcome, len(reqs))
	var wg sync.WaitGroup
	for i, r := range reqs {
		if r == nil {
			out[i] = outcome{rows: []soda.Row{}, skipped: true}
			continue
		}
		wg.Add(1)
		go func(i int, r request) {
			defer wg.Done()
			rows, err := d.fetch(ctx, blockKey, r)
			out[i] = outcome{rows: rows, err: err}
		}(i, *r)
	}
	wg.Wait()
	return out
}

// allFailed reports whether every query that ran returned an error.
func allFailed(outs []outcome) bool {
	ran := 0
	for _, o := range outs {
		if o.skipped {
			continue
		}
		if o.err == nil {
			return false
		}
		ran++
	}
	return ran > 0
}

// datasetWarning formats a per-dataset failure for module warnings.
func datasetWarning(datasetID string, err error) string {
	if err == nil {
		err = errors.New("Unknown error")
	}
	return datasetID + ": " + err.Error()
}

// failures logs every failed outcome and returns one warning per failure.
// datasets[i] names the dataset behind outs[i].
func (d Deps) failures(module brief.ModuleID, outs []outcome, datasets []string) []string {
	var warnings []string
	for i, o := range outs {
		if o.err == nil {
			continue
		}
		warnDegraded(d.Logger, module, datasets[i], o.err)
		warnings = append(warnings, datasetWarning(datasets[i], o.err))
	}
	return warnings
}

func joinWarnings(warnings []string) string {
	return strings.Join(warnings, " | ")
}

// firstNonEmpty returns the first value that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// joinNonEmpty joins the non-blank values with sep.
func joinNonEmpty(sep string, values ...string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, sep)
}

// streetSegment renders "ON (FROM to TO)", dropping the range when either end
// is missing.
func streetSegment(on, from, to string) string {
	span := ""
	if strings.TrimSpace(from) != "" && strings.TrimSpace(to) != "" {
		span = "(" + strings.TrimSpace(from) + " to " + strings.TrimSpace(to) + ")"
	}
	return joinNonEmpty(" ", on, span)
}

// capItems truncates items to the module item limit.
func capItems(items []brief.Item) []brief.Item {
	if len(items) > brief.ItemLimit {
		return items[:brief.ItemLimit]
	}
	return items
}

// limit returns at most n leading rows.
func limit(rows []soda.Row, n int) []soda.Row {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

// zipMatches reports whether a comma-separated zip list contains zip.
// Unknown zip or list matches everything.
func zipMatches(zips, zip string) bool {
	zip = strings.TrimSpace(zip)
	if zip == "" || strings.TrimSpace(zips) == "" {
		return true
	}
	for _, z := range strings.Split(zips, ",") {
		if strings.TrimSpace(z) == zip {
			return true
		}
	}
	return false
}

// rowPoint reads a finite coordinate pair from a row.
func rowPoint(row soda.Row, latKey, lonKey string) (float64, float64, bool) {
	lat, ok := row.FloatOK(latKey)
	if !ok {
		return 0, 0, false
	}
	lon, ok := row.FloatOK(lonKey)
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

func warnDegraded(logger zerolog.Logger, module brief.ModuleID, dataset string, err error) {
	logger.Warn().Err(err).
		Str("module", string(module)).
		Str("dataset", dataset).
		Msg("dataset query failed")
}
