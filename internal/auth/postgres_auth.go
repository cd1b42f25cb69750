package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ProjectStore abstracts the prefix lookup for testability. *store.Store
// satisfies it.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.ProjectWithPolicy, error)
}

// PostgresAuthenticator validates API keys against the projects table.
// Uses AuthCache with stale-while-revalidate to avoid DB + bcrypt on the hot path.
// Auth failures always return an error; no classifier runs without valid auth.
type PostgresAuthenticator struct {
	store  ProjectStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return newPostgresAuthenticatorWithStore(store.NewStore(cfg.DB), NewAuthCache(ttl), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(s ProjectStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:  s,
		cache:  cache,
		logger: logger,
	}
}

// Authenticate validates the bearer key from gRPC metadata.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context) (*ProjectContext, error) {
	c, err := CredentialsFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return a.AuthenticateCredentials(ctx, c)
}

// AuthenticateCredentials validates an API key. The key alone identifies the
// project; a declared project id is ignored.
//
//   - Fresh hit: return immediately
//   - Stale hit: return the stale project, refresh in the background
//   - Miss: DB + bcrypt lookup synchronously
func (a *PostgresAuthenticator) AuthenticateCredentials(ctx context.Context, c Credentials) (*ProjectContext, error) {
	apiKey := c.APIKey

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Project, nil
	}

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Set(apiKey, project)
	return project, nil
}

// backgroundRefresh repeats the lookup for a stale entry. On failure the entry
// is dropped so the next request does a synchronous lookup, which also means a
// rotated key stops working within one TTL.
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, project)
}

// lookupAndVerify does the prefix lookup, bcrypt verification and override decode.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if len(apiKey) < store.APIKeyPrefixLength {
		return nil, ErrInvalidAPIKey
	}

	row, err := a.store.LookupByPrefix(ctx, apiKey[:store.APIKeyPrefixLength])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	// No project with this prefix: reject, don't fail open.
	if row == nil {
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	override, err := row.Override()
	if err != nil {
		a.logger.Warn("failed to parse policy_override, using live table",
			zap.String("project_id", row.ID),
			zap.Error(err),
		)
		override = nil
	}

	return &ProjectContext{
		ProjectID: row.ID,
		Mode:      row.Mode,
		FailOpen:  row.FailOpen,
		Override:  override,
	}, nil
}

func (a *PostgresAuthenticator) handleLookupError(lookupErr error) (*ProjectContext, error) {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}

	a.logger.Warn("auth DB unreachable", zap.Error(lookupErr))
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}
