// Package orchestrator fans out to the external sources concurrently and
// merges their outcomes, tolerating partial loss.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Config controls per-source fetch behavior.
type Config struct {
	// AttemptTimeout bounds every individual call to a source.
	AttemptTimeout time.Duration
}

// Orchestrator runs the registry and weather adapters concurrently. The
// registry source is mandatory; the weather source is optional and is
// cancelled as soon as the registry fails permanently.
type Orchestrator struct {
	registry report.RegistryClient
	weather  report.WeatherClient
	policy   report.RetryPolicy
	clock    report.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	registry report.RegistryClient,
	weather report.WeatherClient,
	policy report.RetryPolicy,
	clock report.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		weather:  weather,
		policy:   policy,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Fetch resolves the reference against both sources and returns the
// merged set. Source failures are reported inside the set, never as an
// error; the only hard errors are context cancellations.
func (o *Orchestrator) Fetch(ctx context.Context, reference string) report.FetchSet {
	set := report.FetchSet{Results: make(map[string]report.FetchResult, 2)}

	weatherCtx, cancelWeather := context.WithCancel(ctx)
	defer cancelWeather()

	// The weather adapter needs a location hint, resolved by the registry
	// as soon as coordinates are known. The channel keeps both fetches
	// concurrent without sharing mutable state.
	hint := make(chan report.Coordinate, 1)

	var (
		wg             sync.WaitGroup
		registryResult report.FetchResult
		weatherResult  report.FetchResult
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		payload, result := o.fetchRegistry(ctx, reference)
		registryResult = result
		if result.Status == report.FetchOK {
			set.Registry = &payload
			hint <- payload.Centroid
			return
		}
		// Mandatory source exhausted: stop any in-flight optional work.
		cancelWeather()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		payload, result := o.fetchWeather(weatherCtx, hint)
		weatherResult = result
		if result.Status == report.FetchOK {
			set.Weather = &payload
		}
	}()

	wg.Wait()
	set.Results[report.SourceRegistry] = registryResult
	set.Results[report.SourceWeather] = weatherResult
	return set
}

func (o *Orchestrator) fetchRegistry(ctx context.Context, reference string) (report.RegistryPayload, report.FetchResult) {
	var payload report.RegistryPayload
	result := o.retry(ctx, report.SourceRegistry, func(attemptCtx context.Context) error {
		var err error
		payload, err = o.registry.FetchParcel(attemptCtx, reference)
		return err
	})
	return payload, result
}

func (o *Orchestrator) fetchWeather(ctx context.Context, hint <-chan report.Coordinate) (report.WeatherPayload, report.FetchResult) {
	var location report.Coordinate
	select {
	case location = <-hint:
	case <-ctx.Done():
		return report.WeatherPayload{}, report.FetchResult{
			Source:      report.SourceWeather,
			Status:      report.FetchUnavailable,
			RetrievedAt: o.clock.Now(),
			Error:       "cancelled before location hint",
		}
	}

	var payload report.WeatherPayload
	result := o.retry(ctx, report.SourceWeather, func(attemptCtx context.Context) error {
		var err error
		payload, err = o.weather.FetchConditions(attemptCtx, location)
		return err
	})
	return payload, result
}

// retry runs one source call under the shared policy: bounded attempts,
// per-attempt timeout, exponential backoff between attempts.
func (o *Orchestrator) retry(ctx context.Context, source string, call func(context.Context) error) report.FetchResult {
	var lastErr error
	attempts := 0
	for {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return report.FetchResult{
				Source:      source,
				Status:      report.FetchOK,
				Attempts:    attempts,
				RetrievedAt: o.clock.Now(),
			}
		}
		lastErr = err
		if ctx.Err() != nil || !o.policy.ShouldRetry(err, attempts) {
			break
		}
		o.logger.Warn("source attempt failed, backing off",
			zap.String("source", source),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		if !sleep(ctx, o.policy.Backoff(attempts-1)) {
			break
		}
	}
	return report.FetchResult{
		Source:      source,
		Status:      report.FetchUnavailable,
		Attempts:    attempts,
		RetrievedAt: o.clock.Now(),
		Error:       lastErr.Error(),
	}
}

// sleep waits for the backoff duration, returning false when the context
// finishes first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
