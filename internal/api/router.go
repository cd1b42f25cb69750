package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/chread"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/metrics"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
)

// ProjectStore is the project and policy persistence used by the management
// endpoints. *store.Store satisfies it.
type ProjectStore interface {
	CreateProject(ctx context.Context, name, mode string) (*store.Project, *store.Policy, string, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
	GetPolicy(ctx context.Context, projectID string) (*store.Policy, error)
	ReplacePolicy(ctx context.Context, projectID string, raw json.RawMessage) (*store.Policy, error)
	UpdatePolicy(ctx context.Context, projectID string, raw json.RawMessage) (*store.Policy, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store      ProjectStore // nil if Postgres is not configured
	Moderation *moderation.Service
	Auth       auth.Authenticator
	Reader     chread.EventReader // nil if no audit store is readable
	Metrics    *metrics.Recorder  // nil disables /metrics
	Limiter    *ProjectLimiter    // nil disables rate limiting
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Moderation (auth required via Bearer tsk_ token)
	mux.HandleFunc("POST /v1/moderate", deps.authMiddleware(deps.rateLimit(deps.handleModerate)))
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.rateLimit(deps.handleEvaluate)))

	// Project CRUD (no auth; fronted by the dashboard)
	mux.HandleFunc("POST /api/moderation/projects", deps.requireStore(deps.handleCreateProject))
	mux.HandleFunc("GET /api/moderation/projects", deps.requireStore(deps.handleListProjects))
	mux.HandleFunc("GET /api/moderation/projects/{project_id}", deps.requireStore(deps.handleGetProject))
	mux.HandleFunc("PATCH /api/moderation/projects/{project_id}", deps.requireStore(deps.handleUpdateProject))
	mux.HandleFunc("DELETE /api/moderation/projects/{project_id}", deps.requireStore(deps.handleDeleteProject))
	mux.HandleFunc("POST /api/moderation/projects/{project_id}/rotate-key", deps.requireStore(deps.handleRotateKey))

	// Policy overrides
	mux.HandleFunc("GET /api/moderation/projects/{project_id}/policy", deps.requireStore(deps.handleGetPolicy))
	mux.HandleFunc("PUT /api/moderation/projects/{project_id}/policy", deps.requireStore(deps.handleReplacePolicy))
	mux.HandleFunc("PATCH /api/moderation/projects/{project_id}/policy", deps.requireStore(deps.handleUpdatePolicy))

	// Audit events
	mux.HandleFunc("GET /api/moderation/events", deps.requireReader(deps.handleListEvents))
	mux.HandleFunc("GET /api/moderation/events/{request_id}", deps.requireReader(deps.handleGetEvent))
	mux.HandleFunc("POST /api/moderation/events/similar", deps.requireReader(deps.handleFindSimilar))
	mux.HandleFunc("GET /api/moderation/summary", deps.requireReader(deps.handleGetSummary))
	mux.HandleFunc("GET /api/moderation/export", deps.requireReader(deps.handleExport))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "ok",
			"config_version": deps.Moderation.Engine().Snapshot().Config.Version,
		})
	})

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

func (d *Dependencies) requireStore(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
			return
		}
		next(w, r)
	}
}

func (d *Dependencies) requireReader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reader == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Audit store not configured"})
			return
		}
		next(w, r)
	}
}
