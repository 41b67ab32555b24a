package handler

import (
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/blockbrief/blockbrief/internal/api/models"
	"github.com/blockbrief/blockbrief/internal/api/response"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
)

// OpsHandlerConfig holds configuration for OpsHandler.
type OpsHandlerConfig struct {
	ServiceName string
	Version     string
	BuildTime   string

	// Registry reports upstream circuit state. May be nil.
	Registry *resilience.Registry
	Clock    clockwork.Clock
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	service   string
	version   string
	buildTime string
	registry  *resilience.Registry
	clock     clockwork.Clock
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &OpsHandler{
		service:   cfg.ServiceName,
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		clock:     cfg.Clock,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Service: h.service,
		Time:    models.Timestamp(h.clock.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Open circuits degrade the
// reported status but never fail readiness: briefs still render with
// unavailable modules.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	providers := h.providers()
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  overallStatus(providers),
		Service: h.service,
		Time:    models.Timestamp(h.clock.Now()),
	})
}

// SystemStatus handles GET /v1/ops/status - upstream provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	providers := h.providers()
	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:    overallStatus(providers),
		Time:      models.Timestamp(h.clock.Now()),
		Providers: providers,
	})
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	out := []models.ProviderStatus{}
	if h.registry == nil {
		return out
	}
	for _, ph := range h.registry.GetAllHealth() {
		ps := models.ProviderStatus{
			Provider:     ph.Name,
			Status:       providerStatus(ph),
			CircuitState: ph.CircuitState.String(),
		}
		if ph.LastSuccessAt != nil {
			ts := models.Timestamp(*ph.LastSuccessAt)
			ps.LastSuccessAt = &ts
		}
		if ph.LastFailureAt != nil {
			ts := models.Timestamp(*ph.LastFailureAt)
			ps.LastFailureAt = &ts
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func providerStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case ph.IsUnhealthy():
		return models.HealthStatusFail
	case ph.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

// overallStatus is OK when every provider is OK, FAIL when every provider
// failed and DEGRADED otherwise.
func overallStatus(providers []models.ProviderStatus) models.HealthStatus {
	failed, degraded := 0, 0
	for _, p := range providers {
		switch p.Status {
		case models.HealthStatusFail:
			failed++
		case models.HealthStatusDegraded:
			degraded++
		}
	}
	switch {
	case len(providers) > 0 && failed == len(providers):
		return models.HealthStatusFail
	case failed > 0 || degraded > 0:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
