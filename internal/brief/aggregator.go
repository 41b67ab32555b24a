package brief

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockbrief/blockbrief/internal/timeutil"
)

// Builder produces one module from the shared query context. Builders are
// expected to degrade internally; a returned error or a panic is replaced
// with a fallback module by the Aggregator.
type Builder interface {
	ID() ModuleID
	Build(ctx context.Context, qc *QueryContext) (Module, error)
}

// AggregatorConfig holds configuration for the Aggregator.
type AggregatorConfig struct {
	Builders []Builder
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

// Aggregator builds complete briefs.
type Aggregator struct {
	builders map[ModuleID]Builder
	clock    clockwork.Clock
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewAggregator creates an aggregator over the given builders. A builder
// registered twice for the same module replaces the earlier one.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	builders := make(map[ModuleID]Builder, len(cfg.Builders))
	for _, b := range cfg.Builders {
		builders[b.ID()] = b
	}
	return &Aggregator{
		builders: builders,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("component", "brief").Logger(),
		tracer:   otel.Tracer("github.com/blockbrief/blockbrief/internal/brief"),
	}
}

// Build runs every module builder concurrently and returns the brief. It only
// fails when loc is invalid; module failures are folded into the result.
func (a *Aggregator) Build(ctx context.Context, loc ResolvedLocation, rawAddress string) (*Response, error) {
	qc, err := NewQueryContext(loc, a.clock.Now())
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "brief.build", trace.WithAttributes(
		attribute.String("brief.block_key", qc.BlockKey),
	))
	defer span.End()

	modules := make([]Module, len(ModuleOrder))
	var wg sync.WaitGroup
	for i, id := range ModuleOrder {
		wg.Add(1)
		go func(i int, id ModuleID) {
			defer wg.Done()
			modules[i] = a.buildOne(ctx, id, qc)
		}(i, id)
	}
	wg.Wait()

	nowISO := qc.NowISO()
	return &Response{
		Input: Input{
			RawAddress:          rawAddress,
			NormalizedAddress:   loc.NormalizedAddress,
			GeoclientConfidence: loc.Confidence,
		},
		Location: Location{
			Lat:               loc.Lat,
			Lon:               loc.Lon,
			BBL:               loc.BBL,
			BIN:               loc.BIN,
			Borough:           loc.Borough,
			CommunityDistrict: loc.CommunityDistrict,
			CouncilDistrict:   loc.CouncilDistrict,
			ZipCode:           loc.ZipCode,
		},
		UpdatedAtUTC: nowISO,
		Parameters: Parameters{
			RadiusPrimaryM:   qc.RadiusPrimaryM,
			RadiusSecondaryM: qc.RadiusSecondaryM,
			Window30d:        timeutil.ISO(qc.Window30d),
			Window90d:        timeutil.ISO(qc.Window90d),
		},
		Modules: modules,
		Map: MapData{
			Center:           Center{Lat: loc.Lat, Lon: loc.Lon},
			RadiusPrimaryM:   qc.RadiusPrimaryM,
			RadiusSecondaryM: qc.RadiusSecondaryM,
			Features:         CollectMapFeatures(modules),
		},
	}, nil
}

func (a *Aggregator) buildOne(ctx context.Context, id ModuleID, qc *QueryContext) (m Module) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("module", string(id)).
				Interface("panic", r).
				Msg("module builder panicked")
			m = FallbackModule(id, fmt.Sprint(r))
		}
	}()

	b, ok := a.builders[id]
	if !ok {
		return FallbackModule(id, "no builder registered for "+string(id))
	}

	m, err := b.Build(ctx, qc)
	if err != nil {
		a.logger.Error().Err(err).Str("module", string(id)).Msg("module builder failed")
		return FallbackModule(id, err.Error())
	}
	m.ID = id
	return m
}

// FallbackModule stands in for a builder that failed outright.
func FallbackModule(id ModuleID, warning string) Module {
	return Module{
		ID:          id,
		Headline:    "This module is temporarily unavailable.",
		Status:      StatusUnavailable,
		Stats:       []Stat{{Label: "Status", Value: Text("Unavailable")}},
		Items:       []Item{},
		Methodology: "Rendering fallback because one or more datasets failed.",
		Sources:     []Source{},
		Warnings:    []string{warning},
	}
}
