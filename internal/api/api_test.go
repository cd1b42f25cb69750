package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/chread"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/metrics"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
)

// --- test doubles ---

// stubAuth maps API keys to projects.
type stubAuth struct {
	projects map[string]*auth.ProjectContext
	err      error
}

func (s *stubAuth) Authenticate(ctx context.Context) (*auth.ProjectContext, error) {
	c, err := auth.CredentialsFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return s.AuthenticateCredentials(ctx, c)
}

func (s *stubAuth) AuthenticateCredentials(_ context.Context, c auth.Credentials) (*auth.ProjectContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.projects[c.APIKey]
	if !ok {
		return nil, auth.ErrInvalidAPIKey
	}
	return p, nil
}

type captureWriter struct {
	mu     sync.Mutex
	events []*storage.ModerationEvent
}

func (c *captureWriter) Write(e *storage.ModerationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}
func (c *captureWriter) Close() {}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// fakeStore keeps projects and policies in memory.
type fakeStore struct {
	mu       sync.Mutex
	projects map[string]*store.Project
	policies map[string]*store.Policy
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: map[string]*store.Project{}, policies: map[string]*store.Policy{}}
}

func (f *fakeStore) CreateProject(_ context.Context, name, mode string) (*store.Project, *store.Policy, string, error) {
	if mode == "" {
		mode = store.ModeEnforce
	}
	if err := (store.UpdateProjectParams{Name: &name, Mode: &mode}).Validate(); err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("proj_%d", f.seq)
	key := fmt.Sprintf("tsk_%08d_secret", f.seq)
	p := &store.Project{ID: id, Name: name, Mode: mode, FailOpen: true, APIKeyPrefix: key[:store.APIKeyPrefixLength]}
	pol := &store.Policy{ID: "pol_" + id, ProjectID: id, PolicyOverride: json.RawMessage(`{}`)}
	f.projects[id] = p
	f.policies[id] = pol
	return p, pol, key, nil
}

func (f *fakeStore) ListProjects(context.Context) ([]*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[id], nil
}

func (f *fakeStore) UpdateProject(_ context.Context, id string, params store.UpdateProjectParams) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	if params.Mode != nil {
		p.Mode = *params.Mode
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	return p, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.projects, id)
	delete(f.policies, id)
	return nil
}

func (f *fakeStore) RotateAPIKey(_ context.Context, id string) (*store.Project, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", store.ErrNotFound)
	}
	key := "tsk_rotated_" + id
	p.APIKeyPrefix = key[:store.APIKeyPrefixLength]
	return p, key, nil
}

func (f *fakeStore) GetPolicy(_ context.Context, projectID string) (*store.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies[projectID], nil
}

func (f *fakeStore) ReplacePolicy(_ context.Context, projectID string, raw json.RawMessage) (*store.Policy, error) {
	canonical, _, err := store.CheckOverride(raw)
	if err != nil {
		return nil, fmt.Errorf("ReplacePolicy: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pol, ok := f.policies[projectID]
	if !ok {
		return nil, nil
	}
	pol.PolicyOverride = canonical
	pol.Revision++
	return pol, nil
}

func (f *fakeStore) UpdatePolicy(ctx context.Context, projectID string, raw json.RawMessage) (*store.Policy, error) {
	return f.ReplacePolicy(ctx, projectID, raw)
}

// stubReader records the last list params and returns canned rows.
type stubReader struct {
	mu      sync.Mutex
	rows    []chread.EventRow
	last    chread.ListEventsParams
	summary *chread.Summary
	err     error

	lastSimilar int
}

func (s *stubReader) ListEvents(_ context.Context, p chread.ListEventsParams) ([]chread.EventRow, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = p
	return s.rows, len(s.rows), s.err
}

func (s *stubReader) GetEvent(_ context.Context, projectID, requestID string) (*chread.EventRow, error) {
	for _, r := range s.rows {
		if r.ProjectID == projectID && r.RequestID == requestID {
			row := r
			return &row, nil
		}
	}
	return nil, s.err
}

func (s *stubReader) GetSummary(_ context.Context, _ string, days int) (*chread.Summary, error) {
	if s.summary != nil {
		out := *s.summary
		out.PeriodDays = days
		return &out, nil
	}
	return &chread.Summary{PeriodDays: days}, s.err
}

func (s *stubReader) FindSimilar(_ context.Context, projectID, text string, limit int) ([]chread.EventRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSimilar = limit
	var out []chread.EventRow
	for _, r := range s.rows {
		if r.ProjectID == projectID && r.PayloadHash == storage.ContentHash(text) {
			out = append(out, r)
		}
	}
	return out, s.err
}

func (s *stubReader) Close() error { return nil }

func (s *stubReader) params() chread.ListEventsParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// --- harness ---

const (
	enforceKey = "tsk_enforce_key"
	shadowKey  = "tsk_shadow_key"
)

type testEnv struct {
	deps    *Dependencies
	handler http.Handler
	writer  *captureWriter
	store   *fakeStore
	reader  *stubReader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	holder := engine.NewSnapshotHolder(engine.NewSnapshot(engine.DefaultConfig()))
	eng := engine.NewModerationEngine(
		[]engine.Classifier{classifiers.NewHeuristicClassifier()},
		time.Second, holder, nil, zap.NewNop(),
	)
	w := &captureWriter{}
	rec := metrics.NewRecorder()
	env := &testEnv{writer: w, store: newFakeStore(), reader: &stubReader{}}
	env.deps = &Dependencies{
		Store:      env.store,
		Moderation: moderation.NewService(eng, w, rec, zap.NewNop()),
		Auth: &stubAuth{projects: map[string]*auth.ProjectContext{
			enforceKey: {ProjectID: "proj_enforce", Mode: "enforce"},
			shadowKey:  {ProjectID: "proj_shadow", Mode: "shadow"},
		}},
		Reader:  env.reader,
		Metrics: rec,
		Logger:  zap.NewNop(),
	}
	env.handler = NewRouter(env.deps)
	return env
}

func (e *testEnv) do(method, path, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

// --- moderation ---

func TestModerate_Authentication(t *testing.T) {
	env := newTestEnv(t)
	body := ModerateReq{Content: "hello"}

	tests := []struct {
		name string
		key  string
		auth error
		want int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"wrong prefix", "sk_live", nil, http.StatusUnauthorized},
		{"unknown key", "tsk_unknown", nil, http.StatusUnauthorized},
		{"backend down", enforceKey, fmt.Errorf("%w: db", auth.ErrAuthUnavailable), http.StatusServiceUnavailable},
		{"valid", enforceKey, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.deps.Auth.(*stubAuth).err = tt.auth
			rr := env.do("POST", "/v1/moderate", tt.key, body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestModerate_EnforcedDecision(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("POST", "/v1/moderate", enforceKey, ModerateReq{Content: "I will kill you", UserID: "u1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[ModerateResp](t, rr)

	if resp.Risk.Level != "High" {
		t.Errorf("expected High, got %s (score %v)", resp.Risk.Level, resp.Risk.Score)
	}
	if resp.IsShadow {
		t.Error("enforcing project must not be shadow")
	}
	if len(resp.Action.Actions) == 0 || resp.Action.Actions[0] != engine.ActionBlock {
		t.Errorf("expected block first, got %v", resp.Action.Actions)
	}
	if resp.RequestID == "" || resp.AuditID == "" {
		t.Errorf("missing ids: %+v", resp)
	}
	if _, ok := resp.Classification["normal"]; !ok {
		t.Errorf("classification lacks normal: %v", resp.Classification)
	}
	if env.writer.count() != 1 {
		t.Errorf("expected 1 audit event, got %d", env.writer.count())
	}
}

func TestModerate_ShadowProject(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("POST", "/v1/moderate", shadowKey, ModerateReq{Content: "I will kill you"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[ModerateResp](t, rr)

	if !resp.IsShadow {
		t.Error("expected is_shadow")
	}
	if len(resp.Action.Actions) != 1 || resp.Action.Actions[0] != engine.ActionNone {
		t.Errorf("shadow response should report no action, got %v", resp.Action.Actions)
	}
	if resp.Risk.Level != "High" {
		t.Errorf("shadow keeps the real risk, got %s", resp.Risk.Level)
	}
}

func TestModerate_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"empty content", ModerateReq{Content: "   "}, http.StatusBadRequest},
		{"too large", ModerateReq{Content: strings.Repeat("a", MaxContentBytes+1)}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do("POST", "/v1/moderate", enforceKey, tt.body)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
	if env.writer.count() != 0 {
		t.Error("rejected requests must not be audited")
	}
}

func TestEvaluate_CallerScores(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("POST", "/v1/evaluate", enforceKey, map[string]any{
		"scores": map[string]any{"threat": "95%", "spam": 0.1, "bogus": 1},
		"text":   "",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[ModerateResp](t, rr)

	if resp.Classification["threat"] != 0.95 {
		t.Errorf("expected coerced threat 0.95, got %v", resp.Classification["threat"])
	}
	if _, ok := resp.Classification["bogus"]; ok {
		t.Error("unknown categories must be dropped")
	}
	if resp.Risk.Level != "High" {
		t.Errorf("expected High, got %s (score %v)", resp.Risk.Level, resp.Risk.Score)
	}
}

func TestEvaluate_MissingScores(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do("POST", "/v1/evaluate", enforceKey, map[string]any{"text": "hi"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestModerate_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Limiter = NewProjectLimiter(0.001, 1)
	env.handler = NewRouter(env.deps)

	if rr := env.do("POST", "/v1/moderate", enforceKey, ModerateReq{Content: "hi"}); rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := env.do("POST", "/v1/moderate", enforceKey, ModerateReq{Content: "hi"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Buckets are per project.
	if rr := env.do("POST", "/v1/moderate", shadowKey, ModerateReq{Content: "hi"}); rr.Code != http.StatusOK {
		t.Errorf("other project should not be limited, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/v1/moderate", enforceKey, ModerateReq{Content: "I will kill you"})

	rr := env.do("GET", "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `modguard_decisions_total{level="High"} 1`) {
		t.Errorf("decision not counted:\n%s", rr.Body.String())
	}
}

func TestHealthzAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr)["config_version"]; got != engine.DefaultConfigVersion {
		t.Errorf("config_version %q", got)
	}

	rr = env.do("OPTIONS", "/v1/moderate", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight: %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

// --- projects & policies ---

func TestProjects_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("POST", "/api/moderation/projects", "", CreateProjectReq{Name: "forum", Mode: "shadow"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	created := decode[CreateProjectResp](t, rr)
	if !strings.HasPrefix(created.APIKey, "tsk_") || created.Mode != "shadow" {
		t.Errorf("unexpected create response: %+v", created)
	}

	rr = env.do("GET", "/api/moderation/projects/"+created.ID, "", nil)
	if rr.Code != http.StatusOK || decode[ProjectResp](t, rr).Name != "forum" {
		t.Errorf("get: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do("PATCH", "/api/moderation/projects/"+created.ID, "", map[string]any{"mode": "enforce"})
	if rr.Code != http.StatusOK || decode[ProjectResp](t, rr).Mode != "enforce" {
		t.Errorf("update: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do("POST", "/api/moderation/projects/"+created.ID+"/rotate-key", "", nil)
	if rr.Code != http.StatusOK || decode[RotateKeyResp](t, rr).APIKey == created.APIKey {
		t.Errorf("rotate: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do("GET", "/api/moderation/projects", "", nil)
	if got := decode[[]ProjectResp](t, rr); len(got) != 1 {
		t.Errorf("list: %+v", got)
	}

	if rr = env.do("DELETE", "/api/moderation/projects/"+created.ID, "", nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rr.Code)
	}
	if rr = env.do("DELETE", "/api/moderation/projects/"+created.ID, "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: %d", rr.Code)
	}
}

func TestProjects_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty name", "POST", "/api/moderation/projects", CreateProjectReq{}, http.StatusBadRequest},
		{"bad mode", "POST", "/api/moderation/projects", CreateProjectReq{Name: "x", Mode: "audit"}, http.StatusBadRequest},
		{"bad update mode", "PATCH", "/api/moderation/projects/p", map[string]any{"mode": "off"}, http.StatusBadRequest},
		{"missing project", "GET", "/api/moderation/projects/nope", nil, http.StatusNotFound},
		{"rotate missing", "POST", "/api/moderation/projects/nope/rotate-key", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(tt.method, tt.path, "", tt.body); rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPolicies(t *testing.T) {
	env := newTestEnv(t)
	p, _, _, _ := env.store.CreateProject(context.Background(), "p", "")
	path := "/api/moderation/projects/" + p.ID + "/policy"

	rr := env.do("PUT", path, "", `{"categories":{"spam":{"weight":0.5}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rr.Code, rr.Body.String())
	}
	got := decode[PolicyResp](t, rr)
	if string(got.PolicyOverride) != `{"categories":{"spam":{"weight":0.5}}}` || got.Revision != 1 {
		t.Errorf("unexpected policy: %s rev %d", got.PolicyOverride, got.Revision)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"out of range", `{"categories":{"spam":{"weight":3}}}`, http.StatusUnprocessableEntity},
		{"unknown category", `{"categories":{"gore":{"weight":0.1}}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do("PATCH", path, "", tt.body); rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	if rr := env.do("GET", "/api/moderation/projects/nope/policy", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing policy: %d", rr.Code)
	}
}

func TestStoreNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Store = nil
	env.handler = NewRouter(env.deps)

	if rr := env.do("GET", "/api/moderation/projects", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

// --- events ---

func TestListEvents_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.reader.rows = []chread.EventRow{{RequestID: "r1", ProjectID: "p1", RiskLevel: "High"}}

	rr := env.do("GET", "/api/moderation/events?project_id=p1&level=high&page_size=1000&page=0&is_shadow=true&action=Block+content&start_time=2026-01-01T00:00:00Z", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	resp := decode[EventListResp](t, rr)
	if resp.Total != 1 || resp.Events[0].RequestID != "r1" {
		t.Errorf("unexpected list: %+v", resp)
	}
	if resp.PageSize != maxPageSize || resp.Page != 1 {
		t.Errorf("pagination not clamped: page %d size %d", resp.Page, resp.PageSize)
	}

	p := env.reader.params()
	if p.Level == nil || *p.Level != "High" {
		t.Errorf("level not canonicalized: %v", p.Level)
	}
	if p.IsShadow == nil || !*p.IsShadow || p.Action == nil || *p.Action != "Block content" || p.StartTime == nil {
		t.Errorf("filters not passed: %+v", p)
	}
}

func TestListEvents_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/moderation/events",
		"/api/moderation/events?project_id=p1&level=severe",
		"/api/moderation/summary",
		"/api/moderation/export?project_id=p1&format=xml",
	} {
		if rr := env.do("GET", path, "", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t)
	env.reader.rows = []chread.EventRow{{RequestID: "r1", ProjectID: "p1"}}

	if rr := env.do("GET", "/api/moderation/events/r1?project_id=p1", "", nil); rr.Code != http.StatusOK {
		t.Errorf("get: %d", rr.Code)
	}
	if rr := env.do("GET", "/api/moderation/events/r1?project_id=p2", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("other project: %d", rr.Code)
	}
}

func TestGetSummary_ClampsDays(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do("GET", "/api/moderation/summary?project_id=p1&days=365", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary: %d", rr.Code)
	}
	if got := decode[chread.Summary](t, rr).PeriodDays; got != maxDays {
		t.Errorf("expected %d days, got %d", maxDays, got)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.reader.rows = []chread.EventRow{{RequestID: "r1", ProjectID: "p1", Timestamp: time.Now()}}

	rr := env.do("GET", "/api/moderation/export?project_id=p1&format=csv", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("csv: %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "text/csv" {
		t.Errorf("content type %q", rr.Header().Get("Content-Type"))
	}
	if lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("expected header + 1 row, got %d lines", len(lines))
	}
	if p := env.reader.params(); p.PageSize != chread.MaxExportRows {
		t.Errorf("export page size %d", p.PageSize)
	}

	rr = env.do("GET", "/api/moderation/export?project_id=p1", "", nil)
	var rows []chread.EventRow
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil || len(rows) != 1 {
		t.Errorf("json export: %v %s", err, rr.Body.String())
	}
}

func TestFindSimilar(t *testing.T) {
	env := newTestEnv(t)
	hash := storage.ContentHash("I will find you")
	env.reader.rows = []chread.EventRow{
		{RequestID: "r1", ProjectID: "p1", PayloadHash: hash},
		{RequestID: "r2", ProjectID: "p2", PayloadHash: hash},
	}

	rr := env.do("POST", "/api/moderation/events/similar", "", SimilarEventsReq{ProjectID: "p1", Text: "I will find you", Limit: 500})
	if rr.Code != http.StatusOK {
		t.Fatalf("similar: %d %s", rr.Code, rr.Body.String())
	}
	resp := decode[SimilarEventsResp](t, rr)
	if resp.ContentHash != hash || len(resp.Events) != 1 || resp.Events[0].RequestID != "r1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	env.reader.mu.Lock()
	limit := env.reader.lastSimilar
	env.reader.mu.Unlock()
	if limit != maxSimilar {
		t.Errorf("limit not clamped: %d", limit)
	}

	rr = env.do("POST", "/api/moderation/events/similar", "", SimilarEventsReq{ProjectID: "p1", Text: "unseen"})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"events":[]`) {
		t.Errorf("no matches should be an empty list: %d %s", rr.Code, rr.Body.String())
	}

	for _, body := range []any{
		"{not json",
		SimilarEventsReq{Text: "hi"},
		SimilarEventsReq{ProjectID: "p1", Text: "  "},
	} {
		if rr := env.do("POST", "/api/moderation/events/similar", "", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestEvents_ReaderErrors(t *testing.T) {
	env := newTestEnv(t)
	env.reader.err = errors.New("clickhouse down")

	if rr := env.do("GET", "/api/moderation/events?project_id=p1", "", nil); rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestReaderNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Reader = nil
	env.handler = NewRouter(env.deps)

	if rr := env.do("GET", "/api/moderation/events?project_id=p1", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestProjectLimiter(t *testing.T) {
	l := NewProjectLimiter(1000, 0)
	if !l.Allow("a") {
		t.Error("burst is raised to 1")
	}
	if l.get("a") != l.get("a") || l.get("a") == l.get("b") {
		t.Error("limiters must be per project")
	}
}
