package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey    = errors.New("missing authorization header")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrMissingProjectID = errors.New("missing x-project-id header")
	ErrAuthUnavailable  = errors.New("authentication backend unavailable")
)

// APIKeyPrefix starts every project API key.
const APIKeyPrefix = "tsk_"

// ProjectContext holds the authenticated project's configuration.
type ProjectContext struct {
	ProjectID string
	Mode      string // "enforce" or "shadow"
	FailOpen  bool
	// Override is the project's policy overlay. Nil means the live table as is.
	Override *engine.PolicyOverride
}

// IsShadow reports whether the project only audits decisions.
func (p *ProjectContext) IsShadow() bool {
	return p != nil && p.Mode == "shadow"
}

// Credentials are the caller-supplied identity, independent of transport.
type Credentials struct {
	APIKey    string
	ProjectID string
}

// Authenticator validates incoming requests and returns project context.
// Authenticate reads gRPC metadata; AuthenticateCredentials serves HTTP.
type Authenticator interface {
	Authenticate(ctx context.Context) (*ProjectContext, error)
	AuthenticateCredentials(ctx context.Context, c Credentials) (*ProjectContext, error)
}

// ParseBearer extracts the API key from an Authorization header value.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func ParseBearer(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if !strings.HasPrefix(token, APIKeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// CredentialsFromMetadata reads authorization and x-project-id from incoming
// gRPC metadata.
func CredentialsFromMetadata(ctx context.Context) (Credentials, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Credentials{}, ErrMissingAPIKey
	}
	authValues := md.Get("authorization")
	if len(authValues) == 0 {
		return Credentials{}, ErrMissingAPIKey
	}
	key, err := ParseBearer(authValues[0])
	if err != nil {
		return Credentials{}, err
	}
	c := Credentials{APIKey: key}
	if v := md.Get("x-project-id"); len(v) > 0 {
		c.ProjectID = strings.TrimSpace(v[0])
	}
	return c, nil
}

// StaticAuthenticator accepts any well-formed tsk_ key and trusts the
// caller-declared project id. It backs local development when no project
// database is configured.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context) (*ProjectContext, error) {
	c, err := CredentialsFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return a.AuthenticateCredentials(ctx, c)
}

func (a *StaticAuthenticator) AuthenticateCredentials(_ context.Context, c Credentials) (*ProjectContext, error) {
	if !strings.HasPrefix(c.APIKey, APIKeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	if c.ProjectID == "" {
		return nil, ErrMissingProjectID
	}
	return &ProjectContext{
		ProjectID: c.ProjectID,
		Mode:      "enforce",
		FailOpen:  true,
	}, nil
}
