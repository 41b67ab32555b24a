package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockbrief/blockbrief/internal/api/models"
	"github.com/blockbrief/blockbrief/internal/api/response"
	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/timeutil"
)

// Query parameter bounds for the 311 listing.
const (
	DefaultCallDays  = 30
	MinCallDays      = 1
	MaxCallDays      = 90
	DefaultCallLimit = 500
	MinCallLimit     = 50
	MaxCallLimit     = 1000
)

const (
	callsTTL    = 15 * time.Minute
	callsSelect = "unique_key, created_date, closed_date, complaint_type, descriptor, status, incident_address, street_name, cross_street_1, cross_street_2"
)

// CallsHandlerConfig holds the collaborators of CallsHandler.
type CallsHandlerConfig struct {
	Querier soda.Querier

	// Cache stores count and row results. Default: a new cache.
	Cache  *cache.Cache
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// CallsHandler lists the individual 311 requests around a block.
type CallsHandler struct {
	querier soda.Querier
	cache   *cache.Cache
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewCallsHandler creates a CallsHandler.
func NewCallsHandler(cfg CallsHandlerConfig) *CallsHandler {
	if cfg.Cache == nil {
		cfg.Cache = cache.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &CallsHandler{
		querier: cfg.Querier,
		cache:   cfg.Cache,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With().Str("handler", "311-calls").Logger(),
	}
}

// ListCalls handles GET /v1/brief/by-block/{blockId}/311-calls.
func (h *CallsHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "blockId")
	payload, err := brief.DecodeBlockID(blockID)
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "blockId", Message: err.Error(), Code: "invalid"},
		})
		return
	}

	q := r.URL.Query()
	days := ClampInt(q.Get("days"), DefaultCallDays, MinCallDays, MaxCallDays)
	limit := ClampInt(q.Get("limit"), DefaultCallLimit, MinCallLimit, MaxCallLimit)
	radiusM := brief.RadiusSecondaryM

	now := h.clock.Now().UTC()
	where := soda.And(
		soda.WithinCircle("location", payload.Lat, payload.Lon, radiusM),
		soda.TimeRange("created_date", timeutil.DaysAgo(now, days), time.Time{}),
	)
	window := strconv.Itoa(days)

	var countRows, rows []soda.Row
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		countRows, err = h.query(ctx, cache.Key(soda.ServiceRequests, "all311:count", blockID, window), soda.Query{
			Select: "count(*) as count",
			Where:  where,
			Limit:  1,
		})
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = h.query(ctx, cache.Key(soda.ServiceRequests, "all311:rows", blockID, window+":"+strconv.Itoa(limit)), soda.Query{
			Select: callsSelect,
			Where:  where,
			Order:  "created_date::floating_timestamp DESC",
			Limit:  limit,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Warn().Err(err).Str("dataset", soda.ServiceRequests).Msg("311 listing failed")
		response.BadGateway(w, r, "Failed to load 311 calls")
		return
	}

	total := 0
	if len(countRows) > 0 {
		total = countRows[0].Int("count")
	}
	calls := make([]models.CallItem, len(rows))
	for i, row := range rows {
		calls[i] = callItem(row, i)
	}

	ds := soda.MustLookup(soda.ServiceRequests)
	response.Cached(w, r, response.Cache311, models.Calls311{
		TotalCalls:     total,
		ReturnedCalls:  len(calls),
		Truncated:      total > len(calls),
		WindowDays:     days,
		RadiusM:        radiusM,
		GeneratedAtUTC: timeutil.ISO(now),
		Methodology:    fmt.Sprintf("within %gm; last %d days; sorted newest first", radiusM, days),
		Source:         brief.Source{DatasetID: ds.ID, DatasetName: ds.Name, DatasetURL: ds.URL},
		Calls:          calls,
	})
}

func (h *CallsHandler) query(ctx context.Context, key string, q soda.Query) ([]soda.Row, error) {
	return cache.GetOrLoad(ctx, h.cache, key, callsTTL, func(ctx context.Context) ([]soda.Row, error) {
		return h.querier.Query(ctx, soda.ServiceRequests, q)
	})
}

// ClampInt parses value and clamps it to [lo, hi]. Blank or malformed input
// yields def.
func ClampInt(value string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return max(lo, min(n, hi))
}

func callItem(row soda.Row, index int) models.CallItem {
	title := row.Text("complaint_type")
	if title == "" {
		title = "Unknown complaint"
	}
	descriptor := row.Text("descriptor")
	status := row.Text("status")

	var parts []string
	if descriptor != "" {
		parts = append(parts, descriptor)
	}
	if status != "" {
		parts = append(parts, "Status: "+status)
	}

	id := row.Text("unique_key")
	if id == "" {
		created := row.Text("created_date")
		if created == "" {
			created = strconv.Itoa(index)
		}
		id = title + ":" + created
	}

	return models.CallItem{
		ID:           id,
		Title:        title,
		Subtitle:     strings.Join(parts, " • "),
		Status:       status,
		DateStart:    isoOrEmpty(row.Text("created_date")),
		DateEnd:      isoOrEmpty(row.Text("closed_date")),
		LocationDesc: callLocation(row),
	}
}

func callLocation(row soda.Row) string {
	if direct := row.Text("incident_address"); direct != "" {
		return direct
	}
	street := row.Text("street_name")
	cross1 := row.Text("cross_street_1")
	cross2 := row.Text("cross_street_2")
	switch {
	case street != "" && cross1 != "":
		return street + " & " + cross1
	case cross1 != "" && cross2 != "":
		return cross1 + " & " + cross2
	case street != "":
		return street
	case cross1 != "":
		return cross1
	default:
		return cross2
	}
}

func isoOrEmpty(value string) string {
	t, ok := timeutil.Parse(value)
	if !ok {
		return ""
	}
	return timeutil.ISO(t)
}
