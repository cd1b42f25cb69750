package api

import (
	"encoding/json"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/chread"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
)

// --- POST /v1/moderate request/response ---

// ModerateReq is the JSON body for POST /v1/moderate.
type ModerateReq struct {
	Content     string `json:"content"`
	UserID      string `json:"user_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ModerateResp is returned by POST /v1/moderate and POST /v1/evaluate.
type ModerateResp = moderation.Response

// EvaluateReq is the JSON body for POST /v1/evaluate. Scores follow the
// classifier coercion rules: numbers, numeric strings and "NN%" strings.
type EvaluateReq struct {
	Scores map[string]any `json:"scores"`
	Text   string         `json:"text"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/moderation/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKey         string    `json:"api_key"`
	APIKeyPrefix   string    `json:"api_key_prefix"`
	Mode           string    `json:"mode"`
	FailOpen       bool      `json:"fail_open"`
	ChecksPerMonth *int      `json:"checks_per_month"`
	CreatedAt      time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/moderation/projects/{id}.
type UpdateProjectReq struct {
	Name           *string `json:"name,omitempty"`
	Mode           *string `json:"mode,omitempty"`
	FailOpen       *bool   `json:"fail_open,omitempty"`
	ChecksPerMonth *int    `json:"checks_per_month,omitempty"`
}

// ProjectResp is a project without its key material.
type ProjectResp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKeyPrefix   string    `json:"api_key_prefix"`
	Mode           string    `json:"mode"`
	FailOpen       bool      `json:"fail_open"`
	ChecksPerMonth *int      `json:"checks_per_month"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Policy CRUD ---

// PolicyResp is a project's policy override document.
type PolicyResp struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	PolicyOverride json.RawMessage `json:"policy_override"`
	Revision       int             `json:"revision"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// --- Moderation events ---

// EventListResp is a page of audit events.
type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// SimilarEventsReq is the JSON body for POST /api/moderation/events/similar.
type SimilarEventsReq struct {
	ProjectID string `json:"project_id"`
	Text      string `json:"text"`
	Limit     int    `json:"limit,omitempty"`
}

// SimilarEventsResp lists past decisions on the same or near-identical content.
type SimilarEventsResp struct {
	ContentHash string            `json:"content_hash"`
	Events      []chread.EventRow `json:"events"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
