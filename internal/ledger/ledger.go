// Package ledger owns the query lifecycle. It is the only writer of
// query status and the only caller of quota commit and release, which is
// what keeps the exactly-once billing guarantee in one place.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/generate"
	"github.com/geoinforme/parcelreport/internal/metrics"
	"github.com/geoinforme/parcelreport/internal/quota"
	"github.com/geoinforme/parcelreport/internal/report"
)

// Fetcher resolves a reference against the external sources.
type Fetcher interface {
	Fetch(ctx context.Context, reference string) report.FetchSet
}

// Bundler packages workspace files into the published archive.
type Bundler interface {
	NewWorkspace(queryID string) (*bundle.Workspace, error)
	Cleanup(ws *bundle.Workspace)
	Bundle(ctx context.Context, ws *bundle.Workspace, reference string, paths []string) (string, error)
}

// ExtrasWriter contributes supplementary archive members.
type ExtrasWriter interface {
	Write(ctx context.Context, ws *bundle.Workspace, set report.FetchSet) ([]string, error)
}

// Ledger drives a query from submission to a terminal state.
type Ledger struct {
	queries    report.QueryStore
	admission  *quota.Controller
	fetcher    Fetcher
	generators []generate.Generator
	extras     ExtrasWriter
	bundler    Bundler
	publisher  report.Publisher
	topic      string
	ids        report.IDGenerator
	clock      report.Clock
	logger     *zap.Logger
}

// Config wires the ledger's collaborators.
type Config struct {
	Queries    report.QueryStore
	Admission  *quota.Controller
	Fetcher    Fetcher
	Generators []generate.Generator
	Extras     ExtrasWriter
	Bundler    Bundler
	Publisher  report.Publisher
	Topic      string
	IDs        report.IDGenerator
	Clock      report.Clock
	Logger     *zap.Logger
}

// New constructs a Ledger.
func New(cfg Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		queries:    cfg.Queries,
		admission:  cfg.Admission,
		fetcher:    cfg.Fetcher,
		generators: cfg.Generators,
		extras:     cfg.Extras,
		bundler:    cfg.Bundler,
		publisher:  cfg.Publisher,
		topic:      cfg.Topic,
		ids:        cfg.IDs,
		clock:      cfg.Clock,
		logger:     logger,
	}
}

// Get returns the query record.
func (l *Ledger) Get(ctx context.Context, id string) (report.Query, error) {
	return l.queries.GetQuery(ctx, id)
}

// Submit runs one query end to end and returns its terminal record.
// Domain outcomes, including quota exhaustion and fulfillment failures,
// are reported inside the record; the error return is reserved for
// infrastructure faults such as an unreachable query store.
func (l *Ledger) Submit(ctx context.Context, userID string, plan report.Plan, rawReference string) (report.Query, error) {
	id, err := l.ids.NewID()
	if err != nil {
		return report.Query{}, fmt.Errorf("generate query id: %w", err)
	}

	q := report.Query{
		ID:        id,
		UserID:    userID,
		Status:    report.StatusCreated,
		CreatedAt: l.clock.Now(),
	}

	reference, refErr := report.NormalizeReference(rawReference)
	if refErr != nil {
		// Record the rejected submission for audit. No external call was
		// made and no quota unit is touched.
		q.Reference = rawReference
		if err := l.queries.CreateQuery(ctx, q); err != nil {
			return report.Query{}, fmt.Errorf("create query: %w", err)
		}
		return l.fail(ctx, q, report.ReasonInvalidReference, refErr.Error())
	}
	q.Reference = reference

	if err := l.queries.CreateQuery(ctx, q); err != nil {
		return report.Query{}, fmt.Errorf("create query: %w", err)
	}

	metrics.IncActiveQueries()
	defer metrics.DecActiveQueries()

	reservation, err := l.admission.Reserve(ctx, userID, plan)
	if errors.Is(err, report.ErrQuotaExceeded) {
		metrics.ObserveQuotaRejection()
		return l.terminate(ctx, q, report.StatusQuotaExceeded,
			&report.Failure{Reason: report.ReasonQuotaExceeded}, "quota exhausted for period")
	}
	if err != nil {
		return report.Query{}, fmt.Errorf("admission: %w", err)
	}
	q = l.transition(ctx, q, report.StatusAdmitted, "")

	// From here on every terminal path except Completed must refund the
	// reserved unit. Release is idempotent, so the deferred call is safe
	// alongside the explicit ones.
	defer func() {
		if releaseErr := l.admission.Release(context.WithoutCancel(ctx), reservation); releaseErr != nil {
			l.logger.Error("quota release failed",
				zap.String("query_id", q.ID), zap.Error(releaseErr))
		}
	}()

	q = l.transition(ctx, q, report.StatusFetching, "")
	set := l.fetcher.Fetch(ctx, reference)
	q.FetchResults = set.Results
	q.Degraded = set.Degraded()
	for _, r := range set.Results {
		metrics.ObserveSourceFetch(r.Source, string(r.Status), r.Attempts)
	}

	if set.Registry == nil {
		detail := set.Results[report.SourceRegistry].Error
		return l.fail(ctx, q, report.ReasonSourceUnavailable, detail)
	}

	ws, err := l.bundler.NewWorkspace(q.ID)
	if err != nil {
		return l.fail(ctx, q, report.ReasonBundleError, err.Error())
	}
	defer l.bundler.Cleanup(ws)

	q = l.transition(ctx, q, report.StatusGenerating, "")
	paths := l.generateArtifacts(ctx, ws, set, &q)
	if len(q.Artifacts) == 0 {
		return l.fail(ctx, q, report.ReasonNoArtifactsProduced, "every generator failed")
	}

	if l.extras != nil {
		extraPaths, extrasErr := l.extras.Write(ctx, ws, set)
		if extrasErr != nil {
			l.logger.Warn("extras skipped",
				zap.String("query_id", q.ID), zap.Error(extrasErr))
		}
		paths = append(paths, extraPaths...)
	}

	uri, err := l.bundler.Bundle(ctx, ws, reference, paths)
	if err != nil {
		return l.fail(ctx, q, report.ReasonBundleError, err.Error())
	}
	q.ArchiveURI = uri
	q = l.transition(ctx, q, report.StatusBundled, "")

	// The archive is durable: the query is now billable.
	l.admission.Commit(reservation)
	return l.terminate(ctx, q, report.StatusCompleted, nil, "")
}

// generateArtifacts runs every generator, recording failures as missing
// artifacts instead of aborting. It returns the paths of the produced
// files for bundling.
func (l *Ledger) generateArtifacts(ctx context.Context, ws *bundle.Workspace, set report.FetchSet, q *report.Query) []string {
	q.Artifacts = make(map[report.ArtifactFormat]report.Artifact, len(l.generators))
	q.MissingArtifacts = make(map[report.ArtifactFormat]string)

	var paths []string
	for _, g := range l.generators {
		art, err := g.Generate(ctx, ws, set)
		if err != nil {
			metrics.ObserveArtifact(string(g.Format()), "missing")
			q.MissingArtifacts[g.Format()] = err.Error()
			q.Degraded = true
			l.logger.Warn("artifact generation failed",
				zap.String("query_id", q.ID),
				zap.String("format", string(g.Format())),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveArtifact(string(g.Format()), "ok")
		q.Artifacts[art.Format] = art
		paths = append(paths, art.Path)
	}
	return paths
}

// transition advances the status, records the audit entry and persists.
// Persistence failures are logged, not fatal: the in-memory record stays
// authoritative for the rest of the run and the terminal update retries.
func (l *Ledger) transition(ctx context.Context, q report.Query, to report.QueryStatus, note string) report.Query {
	q.Transitions = append(q.Transitions, report.Transition{
		From: q.Status,
		To:   to,
		At:   l.clock.Now(),
		Note: note,
	})
	q.Status = to
	if err := l.queries.UpdateQuery(ctx, q); err != nil {
		l.logger.Warn("query update failed",
			zap.String("query_id", q.ID),
			zap.String("status", string(to)),
			zap.Error(err),
		)
	}
	return q
}

func (l *Ledger) fail(ctx context.Context, q report.Query, reason report.FailureReason, detail string) (report.Query, error) {
	return l.terminate(ctx, q, report.StatusFailed, &report.Failure{Reason: reason, Detail: detail}, detail)
}

// terminate applies the terminal transition, persists it and emits the
// completion event. The persist must stick even when the caller's
// context is gone, so terminal writes run detached.
func (l *Ledger) terminate(ctx context.Context, q report.Query, to report.QueryStatus, failure *report.Failure, note string) (report.Query, error) {
	writeCtx := context.WithoutCancel(ctx)

	q.Failure = failure
	now := l.clock.Now()
	q.CompletedAt = &now
	q.Transitions = append(q.Transitions, report.Transition{
		From: q.Status,
		To:   to,
		At:   now,
		Note: note,
	})
	q.Status = to
	if err := l.queries.UpdateQuery(writeCtx, q); err != nil {
		return q, fmt.Errorf("persist terminal state: %w", err)
	}

	metrics.ObserveQuery(string(to), now.Sub(q.CreatedAt))
	l.publishCompletion(writeCtx, q)
	return q, nil
}

// publishCompletion emits the completion event. Delivery is best effort:
// a publish failure never changes the query outcome.
func (l *Ledger) publishCompletion(ctx context.Context, q report.Query) {
	if l.publisher == nil {
		return
	}
	event := report.CompletionEvent{
		QueryID:          q.ID,
		UserID:           q.UserID,
		Reference:        q.Reference,
		Status:           q.Status,
		Degraded:         q.Degraded,
		ArchiveURI:       q.ArchiveURI,
		MissingArtifacts: q.MissingArtifacts,
	}
	if _, err := l.publisher.Publish(ctx, l.topic, event); err != nil {
		l.logger.Error("completion event publish failed",
			zap.String("query_id", q.ID), zap.Error(err))
	}
}
