package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"cogni/internal/errs"

	"github.com/go-chi/chi/v5"
)

// HealthResponse reports service and dependency health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Checks   map[string]string `json:"checks"`
}

// generateGuideRequest is the body of POST /generate-study-guide. Wait
// defaults to true: a duplicate concurrent request joins the in-flight run.
type generateGuideRequest struct {
	ClassroomID string `json:"classroom_id"`
	Force       bool   `json:"force"`
	Wait        *bool  `json:"wait,omitempty"`
}

type generateInsightsRequest struct {
	ClassroomID string `json:"classroom_id"`
	Wait        *bool  `json:"wait,omitempty"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			Provider: s.client.Provider(),
			Model:    s.client.ModelName(),
			Checks:   checks,
		})
		return
	}
	checks["database"] = "ok"

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Provider: s.client.Provider(),
		Model:    s.client.ModelName(),
		Checks:   checks,
	})
}

// handleGenerateStudyGuide handles POST /generate-study-guide
func (s *Server) handleGenerateStudyGuide(w http.ResponseWriter, r *http.Request) {
	var req generateGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClassroomID == "" {
		s.respondError(w, http.StatusBadRequest, "classroom_id is required")
		return
	}

	wait := req.Wait == nil || *req.Wait
	result, err := s.pipeline.GenerateStudyGuide(r.Context(), req.ClassroomID, req.Force, wait)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"upload_count":  result.UploadCount,
		"unit_count":    result.UnitCount,
		"guide_version": result.GuideVersion,
	})
}

// handleGenerateInsights handles POST /generate-insights
func (s *Server) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	var req generateInsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClassroomID == "" {
		s.respondError(w, http.StatusBadRequest, "classroom_id is required")
		return
	}

	wait := req.Wait == nil || *req.Wait
	result, err := s.pipeline.GenerateInsights(r.Context(), req.ClassroomID, wait)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"summary_id": result.SummaryID,
	})
}

// handleGetStudyGuide handles GET /study-guide/{classroomID}. With
// ?format=html the stored markdown is rendered server-side.
func (s *Server) handleGetStudyGuide(w http.ResponseWriter, r *http.Request) {
	classroomID := chi.URLParam(r, "classroomID")

	guide, err := s.store.GetStudyGuide(r.Context(), classroomID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load study guide")
		return
	}
	if guide == nil {
		s.respondError(w, http.StatusNotFound, "no study guide for classroom")
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(renderMarkdown(guide.Content)))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"classroom_id":  guide.ClassroomID,
		"content":       guide.Content,
		"guide_version": guide.Metadata.GuideVersion,
		"unit_count":    guide.Metadata.UnitCount,
		"upload_count":  guide.Metadata.UploadCount,
		"generated_at":  guide.Metadata.LastGeneratedAt,
	})
}

// handleGetInsights handles GET /insights/{classroomID}
func (s *Server) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	classroomID := chi.URLParam(r, "classroomID")

	summary, err := s.store.GetConfusionSummary(r.Context(), classroomID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load confusion summary")
		return
	}
	if summary == nil {
		s.respondError(w, http.StatusNotFound, "no confusion summary for classroom")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"summary_id":   summary.ID,
		"classroom_id": summary.ClassroomID,
		"content":      summary.Content,
		"window_start": summary.WindowStart,
		"window_end":   summary.WindowEnd,
		"generated_at": summary.GeneratedAt,
	})
}

// respondPipelineError maps the pipeline error taxonomy onto HTTP statuses.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrEmptyInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrGenerationInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrPrivacyViolation):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errs.IsPermanent(err):
		s.respondError(w, http.StatusBadGateway, err.Error())
	case errs.IsTransient(err):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("Generation failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
