// Package handler provides HTTP handlers for the Block Brief API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/api/models"
	"github.com/blockbrief/blockbrief/internal/api/response"
	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/geocode"
	"github.com/blockbrief/blockbrief/internal/insight"
	"github.com/blockbrief/blockbrief/pkg/polyline"
)

// DefaultBriefTTL is how long a built brief is reused for the same block.
const DefaultBriefTTL = 15 * time.Minute

const highlightLimit = 3

// BriefBuilder builds a brief for a resolved location.
type BriefBuilder interface {
	Build(ctx context.Context, loc brief.ResolvedLocation, rawAddress string) (*brief.Response, error)
}

// BriefHandlerConfig holds the collaborators of BriefHandler.
type BriefHandlerConfig struct {
	Builder  BriefBuilder
	Resolver geocode.Resolver

	// Cache stores built briefs under brief:{blockId}. Default: a new cache.
	Cache  *cache.Cache
	TTL    time.Duration
	Logger zerolog.Logger
}

// BriefHandler serves briefs and the views derived from them.
type BriefHandler struct {
	builder  BriefBuilder
	resolver geocode.Resolver
	cache    *cache.Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewBriefHandler creates a BriefHandler.
func NewBriefHandler(cfg BriefHandlerConfig) *BriefHandler {
	if cfg.Cache == nil {
		cfg.Cache = cache.New()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultBriefTTL
	}
	return &BriefHandler{
		builder:  cfg.Builder,
		resolver: cfg.Resolver,
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		logger:   cfg.Logger.With().Str("handler", "brief").Logger(),
	}
}

// SharePath is the public page path of a block id.
func SharePath(blockID string) string {
	return "/b/" + blockID
}

// GetBrief handles GET /v1/brief?address=…|bbl=….
func (h *BriefHandler) GetBrief(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	bbl := strings.TrimSpace(q.Get("bbl"))
	if address == "" && bbl == "" {
		response.BadRequest(w, r, "Provide address or bbl.", []models.FieldError{
			{Field: "address", Message: "address or bbl is required", Code: "required"},
		})
		return
	}

	loc, err := h.resolver.Resolve(r.Context(), geocode.Request{Address: address, BBL: bbl})
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	blockID := brief.EncodeBlockID(brief.PayloadFromLocation(loc))
	raw := address
	if raw == "" {
		raw = bbl
	}

	resp, err := h.load(r.Context(), blockID, loc, raw)
	if err != nil {
		h.writeBuildError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.BriefEnvelope{
		BlockID:   blockID,
		SharePath: SharePath(blockID),
		Brief:     resp,
	})
}

// GetBriefByBlock handles GET /v1/brief/by-block/{blockId}.
func (h *BriefHandler) GetBriefByBlock(w http.ResponseWriter, r *http.Request) {
	blockID, resp, ok := h.briefForBlock(w, r)
	if !ok {
		return
	}
	response.Cached(w, r, response.CacheBrief, models.BriefEnvelope{
		BlockID:   blockID,
		SharePath: SharePath(blockID),
		Brief:     resp,
	})
}

// GetInsights handles GET /v1/brief/by-block/{blockId}/insights.
func (h *BriefHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	blockID, resp, ok := h.briefForBlock(w, r)
	if !ok {
		return
	}
	response.Cached(w, r, response.CacheBrief, models.Insights{
		BlockID:      blockID,
		UpdatedAtUTC: resp.UpdatedAtUTC,
		Modules:      insight.InterpretAll(resp),
	})
}

// GetWidget handles GET /v1/widget/{blockId}.
func (h *BriefHandler) GetWidget(w http.ResponseWriter, r *http.Request) {
	blockID, resp, ok := h.briefForBlock(w, r)
	if !ok {
		return
	}
	response.Cached(w, r, response.CacheBrief, BuildWidget(blockID, resp))
}

// BuildWidget derives the embeddable summary of a brief.
func BuildWidget(blockID string, resp *brief.Response) models.Widget {
	lines := []models.WidgetLine{}
	for _, f := range resp.Map.Features {
		if f.Kind != brief.FeatureLine {
			continue
		}
		lines = append(lines, models.WidgetLine{
			ID:       f.ID,
			ModuleID: f.ModuleID,
			Label:    f.Label,
			Polyline: polyline.EncodePairs(f.Coordinates),
		})
	}

	return models.Widget{
		BlockID:      blockID,
		Address:      resp.Input.NormalizedAddress,
		UpdatedAtUTC: resp.UpdatedAtUTC,
		ShareURL:     SharePath(blockID),
		EmbedURL:     "/embed/" + blockID,
		Metrics:      brief.Summarize(resp),
		Highlights: models.WidgetHighlights{
			RightNow:    brief.TopItems(resp.Module(brief.ModuleRightNow), highlightLimit),
			Top311Types: brief.TopItems(resp.Module(brief.Module311Pulse), highlightLimit),
		},
		Lines: lines,
	}
}

// briefForBlock decodes the blockId path parameter and loads its brief. It
// writes the error response itself and reports ok=false on failure.
func (h *BriefHandler) briefForBlock(w http.ResponseWriter, r *http.Request) (string, *brief.Response, bool) {
	blockID := chi.URLParam(r, "blockId")
	payload, err := brief.DecodeBlockID(blockID)
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "blockId", Message: err.Error(), Code: "invalid"},
		})
		return "", nil, false
	}

	resp, err := h.load(r.Context(), blockID, payload.Location(), "")
	if err != nil {
		h.writeBuildError(w, r, err)
		return "", nil, false
	}
	return blockID, resp, true
}

func (h *BriefHandler) load(ctx context.Context, blockID string, loc brief.ResolvedLocation, raw string) (*brief.Response, error) {
	return cache.GetOrLoad(ctx, h.cache, "brief:"+blockID, h.ttl, func(ctx context.Context) (*brief.Response, error) {
		return h.builder.Build(ctx, loc, raw)
	})
}

func (h *BriefHandler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrMissingInput):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, geocode.ErrNotFound):
		response.NotFound(w, r, "No matching NYC location was found.")
	default:
		h.logger.Warn().Err(err).Msg("geocoding failed")
		response.BadGateway(w, r, "The geocoder is unavailable. Please try again later.")
	}
}

func (h *BriefHandler) writeBuildError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, brief.ErrInvalidLocation) {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	h.logger.Error().Err(err).Msg("failed to build brief")
	response.InternalError(w, r, "Failed to build brief")
}
