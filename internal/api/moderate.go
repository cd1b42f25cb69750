package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
)

// MaxContentBytes bounds the text accepted by the moderation endpoints.
const MaxContentBytes = 64 << 10

// handleModerate implements POST /v1/moderate.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleModerate(w http.ResponseWriter, r *http.Request) {
	var req ModerateReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > MaxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "content exceeds 64 KiB")
		return
	}

	d.moderate(w, r, &moderation.Request{
		Text:        req.Content,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		ContentType: req.ContentType,
		Source:      "http",
	})
}

// handleEvaluate implements POST /v1/evaluate: caller-supplied scores go
// through the evaluator and resolver without running a classifier.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Scores == nil {
		writeError(w, http.StatusBadRequest, "scores is required")
		return
	}
	if len(req.Text) > MaxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "text exceeds 64 KiB")
		return
	}

	d.moderate(w, r, &moderation.Request{
		Text:   req.Text,
		Scores: classifiers.NormalizeRaw(req.Scores),
		Source: "http_evaluate",
	})
}

func (d *Dependencies) moderate(w http.ResponseWriter, r *http.Request, req *moderation.Request) {
	proj := projectFromContext(r.Context())
	if proj == nil {
		writeError(w, http.StatusInternalServerError, "missing project context")
		return
	}

	res, err := d.Moderation.Moderate(r.Context(), proj, req)
	if err != nil {
		d.Logger.Error("moderation failed", zap.String("project_id", proj.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Moderation failed")
		return
	}

	writeJSON(w, http.StatusOK, res.Render())
}
