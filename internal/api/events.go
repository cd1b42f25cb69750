package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/chread"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	defaultDays     = 7
	maxDays         = 90
	maxSimilar      = 50
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, ok := listParams(w, q)
	if !ok {
		return
	}
	params.Page = max(queryInt(q, "page", 1), 1)
	params.PageSize = min(max(queryInt(q, "page_size", defaultPageSize), 1), maxPageSize)

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.internalError(w, "list events", err)
		return
	}
	if events == nil {
		events = []chread.EventRow{}
	}

	writeJSON(w, http.StatusOK, EventListResp{
		Events:   events,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter is required")
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), projectID, r.PathValue("request_id"))
	if err != nil {
		d.internalError(w, "get event", err)
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "Event not found.")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (d *Dependencies) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter is required")
		return
	}
	days := min(max(queryInt(q, "days", defaultDays), 1), maxDays)

	summary, err := d.Reader.GetSummary(r.Context(), projectID, days)
	if err != nil {
		d.internalError(w, "get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (d *Dependencies) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	var req SimilarEventsReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	limit := req.Limit
	if limit < 1 {
		limit = chread.DefaultSimilarLimit
	}
	limit = min(limit, maxSimilar)

	events, err := d.Reader.FindSimilar(r.Context(), req.ProjectID, req.Text, limit)
	if err != nil {
		d.internalError(w, "find similar events", err)
		return
	}
	if events == nil {
		events = []chread.EventRow{}
	}
	writeJSON(w, http.StatusOK, SimilarEventsResp{
		ContentHash: storage.ContentHash(req.Text),
		Events:      events,
	})
}

// handleExport streams the filtered audit log as CSV or JSON. It takes the
// same filters as the list endpoint and returns at most MaxExportRows rows.
func (d *Dependencies) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be 'json' or 'csv'")
		return
	}

	params, ok := listParams(w, q)
	if !ok {
		return
	}
	params.Page = 1
	params.PageSize = chread.MaxExportRows

	events, _, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.internalError(w, "export events", err)
		return
	}

	filename := fmt.Sprintf("moderation_events_%s.%s", params.ProjectID, format)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		err = chread.ExportCSV(w, events)
	} else {
		w.Header().Set("Content-Type", "application/json")
		err = chread.ExportJSON(w, events)
	}
	if err != nil {
		// Headers are gone; all that is left is to log.
		d.Logger.Error("export write failed", zap.String("format", format), zap.Error(err))
	}
}

// listParams parses the filters shared by list and export. It writes the
// error response itself and reports whether the caller should continue.
func listParams(w http.ResponseWriter, q url.Values) (chread.ListEventsParams, bool) {
	params := chread.ListEventsParams{ProjectID: q.Get("project_id")}
	if params.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter is required")
		return params, false
	}

	if v := q.Get("level"); v != "" {
		lvl, ok := engine.ParseLevel(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "level must be Low, Medium or High")
			return params, false
		}
		s := lvl.String()
		params.Level = &s
	}
	if v := q.Get("action"); v != "" {
		params.Action = &v
	}
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("is_shadow"); v != "" {
		b := v == "true" || v == "1"
		params.IsShadow = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}
	return params, true
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
