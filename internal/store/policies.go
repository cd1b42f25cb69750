package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// ErrInvalidPolicy wraps schema and range failures for a policy override.
var ErrInvalidPolicy = errors.New("invalid policy override")

// Policy represents a row in the policies table.
type Policy struct {
	ID             string
	ProjectID      string
	PolicyOverride json.RawMessage // JSONB, raw bytes
	Revision       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const policyColumns = `id, project_id, policy_override, revision, created_at, updated_at`

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	if err := row.Scan(&p.ID, &p.ProjectID, &p.PolicyOverride, &p.Revision,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CheckOverride validates raw override JSON against the schema and against
// the built-in table, so a stored override can never produce an invalid
// config at request time. It returns the canonical encoding.
func CheckOverride(raw json.RawMessage) (json.RawMessage, *engine.PolicyOverride, error) {
	o, err := engine.ValidateOverrideJSON(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if _, err := o.Apply(engine.DefaultConfig()); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	canonical, err := json.Marshal(o)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return canonical, o, nil
}

// GetPolicy returns the policy for a project, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE project_id = $1`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}
	return p, nil
}

// ReplacePolicy fully replaces a project's override.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, raw json.RawMessage) (*Policy, error) {
	canonical, _, err := CheckOverride(raw)
	if err != nil {
		return nil, fmt.Errorf("ReplacePolicy: %w", err)
	}
	return s.writePolicy(ctx, s.db, "ReplacePolicy", projectID, canonical)
}

// UpdatePolicy merges a partial override into the stored one. Fields present
// in raw win; everything else is kept.
func (s *Store) UpdatePolicy(ctx context.Context, projectID string, raw json.RawMessage) (*Policy, error) {
	_, patch, err := CheckOverride(raw)
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current json.RawMessage
	err = tx.QueryRowContext(ctx,
		`SELECT policy_override FROM policies WHERE project_id = $1 FOR UPDATE`, projectID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}

	base, err := engine.ValidateOverrideJSON(current)
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: stored override: %w", err)
	}
	merged, err := json.Marshal(base.Merge(patch))
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	canonical, _, err := CheckOverride(merged)
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}

	p, err := s.writePolicy(ctx, tx, "UpdatePolicy", projectID, canonical)
	if err != nil || p == nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	return p, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) writePolicy(ctx context.Context, q queryRower, op, projectID string, canonical json.RawMessage) (*Policy, error) {
	p, err := scanPolicy(q.QueryRowContext(ctx, `
		UPDATE policies SET
			policy_override = $2,
			revision        = revision + 1,
			updated_at      = now()
		WHERE project_id = $1
		RETURNING `+policyColumns,
		projectID, []byte(canonical),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
