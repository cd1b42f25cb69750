package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"golang.org/x/crypto/bcrypt"
)

// Project modes.
const (
	ModeEnforce = "enforce"
	ModeShadow  = "shadow"
)

// APIKeyPrefixLength is the number of leading key characters stored in clear
// for candidate lookup.
const APIKeyPrefixLength = 8

// ErrNotFound is returned when a project or policy does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidMode is returned for a mode other than enforce or shadow.
var ErrInvalidMode = errors.New("mode must be 'enforce' or 'shadow'")

// Project represents a row in the projects table.
type Project struct {
	ID             string
	Name           string
	APIKeyHash     string
	APIKeyPrefix   string
	Mode           string // "enforce" or "shadow"
	FailOpen       bool
	ChecksPerMonth *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsShadow reports whether decisions are audited but not enforced.
func (p *Project) IsShadow() bool {
	return p.Mode == ModeShadow
}

// ProjectWithPolicy is a Project joined with its policy override (for auth lookups).
type ProjectWithPolicy struct {
	Project
	PolicyOverride json.RawMessage // from policies.policy_override
}

// Override decodes the stored policy override. Rows are validated on write,
// so an error here means the row was edited out of band.
func (p *ProjectWithPolicy) Override() (*engine.PolicyOverride, error) {
	o, err := engine.ValidateOverrideJSON(p.PolicyOverride)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return o, nil
}

// UpdateProjectParams holds optional fields for partial project updates.
type UpdateProjectParams struct {
	Name           *string
	Mode           *string
	FailOpen       *bool
	ChecksPerMonth *int
}

// Validate checks field values that the database would otherwise reject.
func (p UpdateProjectParams) Validate() error {
	if p.Mode != nil && *p.Mode != ModeEnforce && *p.Mode != ModeShadow {
		return ErrInvalidMode
	}
	if p.Name != nil && *p.Name == "" {
		return errors.New("name must not be empty")
	}
	return nil
}

// GenerateAPIKey creates a new tsk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "tsk_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	return fullKey, string(hashBytes), fullKey[:APIKeyPrefixLength], nil
}

const projectColumns = `id, name, api_key_hash, api_key_prefix, mode, fail_open,
	checks_per_month, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner, extra ...any) (*Project, error) {
	var p Project
	dest := append([]any{&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix,
		&p.Mode, &p.FailOpen, &p.ChecksPerMonth, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts a new project and its empty policy in a single transaction.
// Returns the project, policy, and plaintext API key (shown once).
func (s *Store) CreateProject(ctx context.Context, name, mode string) (*Project, *Policy, string, error) {
	if mode == "" {
		mode = ModeEnforce
	}
	if err := (UpdateProjectParams{Name: &name, Mode: &mode}).Validate(); err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	p, err := scanProject(tx.QueryRowContext(ctx, `
		INSERT INTO projects (name, api_key_hash, api_key_prefix, mode)
		VALUES ($1, $2, $3, $4)
		RETURNING `+projectColumns,
		name, keyHash, keyPrefix, mode,
	))
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	pol, err := scanPolicy(tx.QueryRowContext(ctx, `
		INSERT INTO policies (project_id)
		VALUES ($1)
		RETURNING `+policyColumns,
		p.ID,
	))
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	return p, pol, fullKey, nil
}

// ListProjects returns all projects ordered by created_at DESC.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListProjects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("ListProjects: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns a project by ID, or nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetProject: %w", err)
	}
	return p, nil
}

// UpdateProject applies a partial update to a project. Only non-nil fields are changed.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("UpdateProject: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name             = COALESCE($2, name),
			mode             = COALESCE($3, mode),
			fail_open        = COALESCE($4, fail_open),
			checks_per_month = COALESCE($5, checks_per_month),
			updated_at       = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, params.Name, params.Mode, params.FailOpen, params.ChecksPerMonth,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateProject: %w", err)
	}
	return p, nil
}

// DeleteProject deletes a project by ID. The policy cascades.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteProject: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateAPIKey generates a new API key for a project.
// Returns the updated project and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, keyHash, keyPrefix,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return p, fullKey, nil
}

// LookupByPrefix finds a project by API key prefix.
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*ProjectWithPolicy, error) {
	var pw ProjectWithPolicy
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.api_key_hash, p.api_key_prefix, p.mode, p.fail_open,
		       p.checks_per_month, p.created_at, p.updated_at,
		       COALESCE(pol.policy_override, '{}'::jsonb)
		FROM projects p
		LEFT JOIN policies pol ON pol.project_id = p.id
		WHERE p.api_key_prefix = $1`, prefix,
	), &pw.PolicyOverride)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	pw.Project = *p
	return &pw, nil
}
