package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
	"github.com/karibu-capital/greenscore-cli/internal/pipeline"
)

// apiHandler adapts the pipeline's operations to HTTP. Identity arrives in
// headers; real authentication fronts this service.
type apiHandler struct {
	pipeline *pipeline.Pipeline
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitEvidence accepts a multipart upload: a "file" part plus sector,
// region, type, and description form fields.
func (h *apiHandler) submitEvidence(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-User-ID")
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file part")
		return
	}

	ev, err := h.pipeline.SubmitEvidence(r.Context(), model.Submission{
		OwnerID:     owner,
		Sector:      r.FormValue("sector"),
		Region:      r.FormValue("region"),
		Type:        model.EvidenceType(r.FormValue("type")),
		Description: r.FormValue("description"),
		Payload:     payload,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"evidence_id": ev.ID,
		"state":       string(ev.State),
	})
}

func (h *apiHandler) currentScore(w http.ResponseWriter, r *http.Request) {
	snap, err := h.pipeline.CurrentScore(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no score yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *apiHandler) scoreHistory(w http.ResponseWriter, r *http.Request) {
	months := 0
	if v := r.URL.Query().Get("months"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 0 {
			writeError(w, http.StatusBadRequest, "months must be a non-negative integer")
			return
		}
		months = m
	}
	snaps, err := h.pipeline.ScoreHistory(r.Context(), chi.URLParam(r, "userID"), months)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.GreenScoreSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (h *apiHandler) portfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.pipeline.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

func (h *apiHandler) listReviewQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ReviewFilter{
		Decision: model.ReviewDecision(q.Get("decision")),
		Reason:   model.ReviewReason(q.Get("reason")),
		UserID:   q.Get("user_id"),
	}
	if filter.Decision == "" {
		filter.Decision = model.ReviewPending
	}
	queue, err := h.pipeline.ListReviewQueue(r.Context(), filter)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *apiHandler) decideReview(w http.ResponseWriter, r *http.Request) {
	reviewer := r.Header.Get("X-Reviewer-ID")
	if reviewer == "" {
		writeError(w, http.StatusUnauthorized, "X-Reviewer-ID header is required")
		return
	}

	var req struct {
		Decision string           `json:"decision"`
		Notes    string           `json:"notes"`
		Adjusted *model.Subscores `json:"adjusted,omitempty"`
		Force    bool             `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rc, err := h.pipeline.DecideReview(r.Context(), chi.URLParam(r, "caseID"), pipeline.ReviewInput{
		Decision:   model.ReviewDecision(req.Decision),
		ReviewerID: reviewer,
		Notes:      req.Notes,
		Adjusted:   req.Adjusted,
		Force:      req.Force,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// writePipelineError maps the pipeline's error taxonomy to status codes.
func writePipelineError(w http.ResponseWriter, err error) {
	var (
		ve *model.ValidationError
		su *model.StorageUnavailableError
		iv *model.IntegrityViolationError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrCaseDecided):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &su):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry the submission")
	case errors.As(err, &iv):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// signalFreeContext gives shutdown a deadline detached from the already
// cancelled signal context.
func signalFreeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
