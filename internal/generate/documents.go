package generate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

// DocumentGenerator downloads one registry-rendered document (the
// situation plan or the aerial orthophoto) and files it as an artifact.
// Downloads run under the shared retry policy; the pipeline treats their
// failure as a missing artifact, not a failed query.
type DocumentGenerator struct {
	format   report.ArtifactFormat
	kind     report.DocumentKind
	registry report.RegistryClient
	policy   report.RetryPolicy
	hasher   report.Hasher
	logger   *zap.Logger
}

// NewPlanGenerator constructs the generator for the situation plan.
func NewPlanGenerator(registry report.RegistryClient, policy report.RetryPolicy, hasher report.Hasher, logger *zap.Logger) *DocumentGenerator {
	return newDocumentGenerator(report.FormatPlan, report.DocumentPlan, registry, policy, hasher, logger)
}

// NewOrthophotoGenerator constructs the generator for the aerial image.
func NewOrthophotoGenerator(registry report.RegistryClient, policy report.RetryPolicy, hasher report.Hasher, logger *zap.Logger) *DocumentGenerator {
	return newDocumentGenerator(report.FormatOrthophoto, report.DocumentOrthophoto, registry, policy, hasher, logger)
}

func newDocumentGenerator(
	format report.ArtifactFormat,
	kind report.DocumentKind,
	registry report.RegistryClient,
	policy report.RetryPolicy,
	hasher report.Hasher,
	logger *zap.Logger,
) *DocumentGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentGenerator{
		format:   format,
		kind:     kind,
		registry: registry,
		policy:   policy,
		hasher:   hasher,
		logger:   logger,
	}
}

// Format implements Generator.
func (g *DocumentGenerator) Format() report.ArtifactFormat {
	return g.format
}

// Generate implements Generator.
func (g *DocumentGenerator) Generate(ctx context.Context, ws *bundle.Workspace, set report.FetchSet) (report.Artifact, error) {
	parcel := set.Registry
	if parcel == nil {
		return report.Artifact{}, fmt.Errorf("%s: no registry data for query", g.format)
	}

	data, err := g.download(ctx, parcel.Reference, parcel.Centroid)
	if err != nil {
		return report.Artifact{}, fmt.Errorf("%s: download: %w", g.format, err)
	}
	return writeArtifact(ws, g.format, parcel.Reference, data, g.hasher)
}

func (g *DocumentGenerator) download(ctx context.Context, reference string, center report.Coordinate) ([]byte, error) {
	attempts := 0
	for {
		attempts++
		data, err := g.registry.FetchDocument(ctx, reference, g.kind, center)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil || !g.policy.ShouldRetry(err, attempts) {
			return nil, err
		}
		g.logger.Warn("document download failed, backing off",
			zap.String("kind", string(g.kind)),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		if !sleepBackoff(ctx, g.policy.Backoff(attempts-1)) {
			return nil, ctx.Err()
		}
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
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
