package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockbrief/blockbrief/internal/brief"
)

// ErrAllModulesUnavailable is returned by CheckHealth when a brief came back
// without a single usable module.
var ErrAllModulesUnavailable = errors.New("every module is unavailable")

// BriefBuilder builds a brief for a resolved location.
type BriefBuilder interface {
	Build(ctx context.Context, loc brief.ResolvedLocation, rawAddress string) (*brief.Response, error)
}

// PrewarmJob builds briefs ahead of demand so their dataset responses are
// already cached when a visitor asks.
type PrewarmJob struct {
	config  PrewarmConfig
	builder BriefBuilder
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *PrewarmMetrics
}

// PrewarmMetrics tracks pre-warm job statistics.
type PrewarmMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRuns          int64
	BriefsBuilt        int64
	BriefsFailed       int64
	UnavailableModules int64

	// Timings
	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// PrewarmJobConfig holds configuration for creating a PrewarmJob.
type PrewarmJobConfig struct {
	Config  PrewarmConfig
	Builder BriefBuilder
	Clock   clockwork.Clock
	Logger  zerolog.Logger
}

// NewPrewarmJob creates a new pre-warm job.
func NewPrewarmJob(cfg PrewarmJobConfig) *PrewarmJob {
	config := cfg.Config
	if len(config.Targets) == 0 {
		config.Targets = DefaultTargets()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &PrewarmJob{
		config:  config,
		builder: cfg.Builder,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With().Str("job", "brief_prewarm").Logger(),
		metrics: &PrewarmMetrics{},
	}
}

// PrewarmResult contains the result of one pre-warm run.
type PrewarmResult struct {
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
	TotalTargets       int
	Successful         int
	Failed             int
	UnavailableModules int
	Errors             []PrewarmError
}

// PrewarmError records a brief that could not be built.
type PrewarmError struct {
	Target  string
	BlockID string
	Error   string
}

// Targets returns the configured targets.
func (j *PrewarmJob) Targets() []Target {
	return j.config.Targets
}

// Run pre-warms every configured target.
func (j *PrewarmJob) Run(ctx context.Context) *PrewarmResult {
	return j.RunTargets(ctx, j.config.Targets)
}

// RunTargets builds a brief for each target, at most Concurrency at a time.
// Failures are collected in the result; they never stop the remaining
// targets.
func (j *PrewarmJob) RunTargets(ctx context.Context, targets []Target) *PrewarmResult {
	startTime := j.clock.Now()
	result := &PrewarmResult{
		StartTime:    startTime,
		TotalTargets: len(targets),
	}

	j.logger.Info().
		Int("total_targets", result.TotalTargets).
		Int("concurrency", j.config.Concurrency).
		Msg("starting brief pre-warm")

	outcomes := make([]targetOutcome, len(targets))
	var g errgroup.Group
	g.SetLimit(j.config.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			outcomes[i] = j.warm(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, PrewarmError{
				Target:  targets[i].Name,
				BlockID: targets[i].BlockID,
				Error:   o.err.Error(),
			})
			continue
		}
		result.Successful++
		result.UnavailableModules += o.unavailable
	}

	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("unavailable_modules", result.UnavailableModules).
		Msg("brief pre-warm completed")

	return result
}

type targetOutcome struct {
	unavailable int
	err         error
}

func (j *PrewarmJob) warm(ctx context.Context, target Target) targetOutcome {
	if err := ctx.Err(); err != nil {
		return targetOutcome{err: err}
	}

	buildCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	resp, err := j.builder.Build(buildCtx, target.Location, "")
	if err != nil {
		j.logger.Warn().Err(err).Str("target", target.Name).Msg("brief pre-warm failed")
		return targetOutcome{err: err}
	}
	return targetOutcome{unavailable: countUnavailable(resp)}
}

// CheckHealth builds the first target's brief and fails when the build fails
// or every module came back unavailable.
func (j *PrewarmJob) CheckHealth(ctx context.Context) error {
	if len(j.config.Targets) == 0 {
		return errors.New("health check: no targets configured")
	}
	target := j.config.Targets[0]

	checkCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	resp, err := j.builder.Build(checkCtx, target.Location, "")
	if err != nil {
		return fmt.Errorf("health check %s: %w", target.Name, err)
	}
	if len(resp.Modules) > 0 && countUnavailable(resp) == len(resp.Modules) {
		return fmt.Errorf("health check %s: %w", target.Name, ErrAllModulesUnavailable)
	}
	return nil
}

// Schedule runs the job now and then every interval until ctx is done.
func (j *PrewarmJob) Schedule(ctx context.Context, interval time.Duration) {
	ticker := j.clock.NewTicker(interval)
	defer ticker.Stop()

	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.Run(ctx)
		}
	}
}

func countUnavailable(resp *brief.Response) int {
	n := 0
	for _, m := range resp.Modules {
		if m.Status == brief.StatusUnavailable {
			n++
		}
	}
	return n
}

func (j *PrewarmJob) updateMetrics(result *PrewarmResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.BriefsBuilt += int64(result.Successful)
	j.metrics.BriefsFailed += int64(result.Failed)
	j.metrics.UnavailableModules += int64(result.UnavailableModules)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *PrewarmJob) GetMetrics() PrewarmMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return PrewarmMetrics{
		TotalRuns:          j.metrics.TotalRuns,
		BriefsBuilt:        j.metrics.BriefsBuilt,
		BriefsFailed:       j.metrics.BriefsFailed,
		UnavailableModules: j.metrics.UnavailableModules,
		LastRunAt:          j.metrics.LastRunAt,
		LastRunDuration:    j.metrics.LastRunDuration,
		TotalDuration:      j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *PrewarmJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	return map[string]any{
		"total_runs":          m.TotalRuns,
		"briefs_built":        m.BriefsBuilt,
		"briefs_failed":       m.BriefsFailed,
		"unavailable_modules": m.UnavailableModules,
		"last_run_at":         m.LastRunAt,
		"last_run_duration":   m.LastRunDuration.String(),
		"total_duration":      m.TotalDuration.String(),
	}
}
