package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/report"
)

type submitQueryRequest struct {
	UserID    string `json:"user_id"`
	Plan      string `json:"plan_tier"`
	Reference string `json:"reference"`
}

// submitQueryResponse is the synchronous terminal result of one query.
type submitQueryResponse struct {
	QueryID          string                                    `json:"query_id"`
	Status           report.QueryStatus                        `json:"status"`
	Degraded         bool                                      `json:"degraded"`
	Artifacts        map[report.ArtifactFormat]report.Artifact `json:"artifacts,omitempty"`
	MissingArtifacts map[report.ArtifactFormat]string          `json:"missing_artifacts,omitempty"`
	ArchiveURI       string                                    `json:"archive_uri,omitempty"`
	RemainingQuota   int                                       `json:"remaining_quota"`
}

// submitQuery runs one fulfillment query synchronously and maps the
// terminal outcome to a status code.
func (s *Server) submitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id required")
		return
	}
	plan := s.cfg.PlanFor(req.Plan)

	q, err := s.ledger.Submit(r.Context(), req.UserID, plan, req.Reference)
	if err != nil {
		s.logger.Error("query submission failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "query could not be processed")
		return
	}

	switch q.Status {
	case report.StatusCompleted:
		resp := submitQueryResponse{
			QueryID:          q.ID,
			Status:           q.Status,
			Degraded:         q.Degraded,
			Artifacts:        q.Artifacts,
			MissingArtifacts: q.MissingArtifacts,
			ArchiveURI:       q.ArchiveURI,
		}
		if remaining, remErr := s.admission.Remaining(r.Context(), req.UserID, plan); remErr == nil {
			resp.RemainingQuota = remaining
		}
		writeJSON(w, http.StatusOK, resp)
	case report.StatusQuotaExceeded:
		remaining := 0
		resp := errorResponse{
			Error:          string(report.ReasonQuotaExceeded),
			Detail:         "query quota exhausted for the current period",
			RemainingQuota: &remaining,
		}
		if resetAt, resetErr := s.admission.ResetAt(r.Context(), req.UserID, plan); resetErr == nil {
			resp.QuotaResetAt = resetAt
		}
		writeJSON(w, http.StatusTooManyRequests, resp)
	case report.StatusFailed:
		s.writeFailure(w, q)
	default:
		// Non-terminal statuses never escape Submit.
		writeJSON(w, http.StatusOK, q)
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, q report.Query) {
	reason := report.ReasonSourceUnavailable
	detail := ""
	if q.Failure != nil {
		reason = q.Failure.Reason
		detail = q.Failure.Detail
	}
	status := http.StatusBadGateway
	if reason == report.ReasonInvalidReference {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"error":    string(reason),
		"detail":   detail,
		"query_id": q.ID,
	})
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "query_id")
	q, err := s.ledger.Get(r.Context(), queryID)
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "query not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "query lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// getArchive streams the published zip. An archive only exists after a
// completed run.
func (s *Server) getArchive(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "query_id")
	q, err := s.ledger.Get(r.Context(), queryID)
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "query not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "query lookup failed")
		return
	}
	if q.Status != report.StatusCompleted || q.ArchiveURI == "" {
		writeError(w, http.StatusConflict, "archive_unavailable", "query did not complete")
		return
	}

	obj, err := s.archives.GetObject(r.Context(), bundle.ArchiveObjectPath(q.ID, q.Reference))
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "archive not found in storage")
		return
	}
	if err != nil {
		s.logger.Error("archive read failed", zap.String("query_id", q.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "archive could not be read")
		return
	}
	defer func() {
		_ = obj.Close()
	}()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", bundle.ArchiveName(q.Reference)))
	if _, err := io.Copy(w, obj); err != nil {
		s.logger.Warn("archive stream interrupted", zap.String("query_id", q.ID), zap.Error(err))
	}
}
