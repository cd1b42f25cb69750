package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
)

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

func (c *captureWriter) snapshot() []*storage.ModerationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*storage.ModerationEvent(nil), c.events...)
}

// modeAuth delegates to the static authenticator and forces a project mode.
type modeAuth struct {
	*auth.StaticAuthenticator
	mode string
	err  error
}

func (a *modeAuth) Authenticate(ctx context.Context) (*auth.ProjectContext, error) {
	if a.err != nil {
		return nil, a.err
	}
	p, err := a.StaticAuthenticator.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	p.Mode = a.mode
	return p, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

// testServer spins up an in-process gRPC server and returns a connected client.
func testServer(t *testing.T, authenticator auth.Authenticator, limiter Limiter) (*ModerationClient, *captureWriter, func()) {
	t.Helper()

	logger := zap.NewNop()
	holder := engine.NewSnapshotHolder(engine.NewSnapshot(engine.DefaultConfig()))
	eng := engine.NewModerationEngine(
		[]engine.Classifier{classifiers.NewHeuristicClassifier()},
		time.Second, holder, nil, logger,
	)
	writer := &captureWriter{}
	svc := moderation.NewService(eng, writer, nil, logger)

	grpcServer := grpc.NewServer()
	RegisterModerationServer(grpcServer, NewModerationServer(svc, authenticator, limiter, logger))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
	}
	return NewModerationClient(conn), writer, cleanup
}

// authedCtx creates a context with valid auth metadata.
func authedCtx() context.Context {
	md := metadata.Pairs(
		"authorization", "Bearer tsk_test_key",
		"x-project-id", "proj_integration_test",
	)
	return metadata.NewOutgoingContext(context.Background(), md)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func actionsOf(t *testing.T, resp *structpb.Struct) []string {
	t.Helper()
	action, ok := resp.AsMap()["action"].(map[string]any)
	if !ok {
		t.Fatalf("response has no action object: %v", resp.AsMap())
	}
	raw, _ := action["actions"].([]any)
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		out = append(out, fmt.Sprint(a))
	}
	return out
}

func TestIntegration_BenignText(t *testing.T) {
	client, writer, cleanup := testServer(t, auth.NewStaticAuthenticator(), nil)
	defer cleanup()

	resp, err := client.Moderate(authedCtx(), mustStruct(t, map[string]any{
		"text":    "Lovely weather for a walk",
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}

	m := resp.AsMap()
	risk := m["risk_score"].(map[string]any)
	if risk["level"] != "Low" {
		t.Errorf("expected Low, got %v", risk["level"])
	}
	if got := actionsOf(t, resp); len(got) != 1 || got[0] != engine.ActionNone {
		t.Errorf("expected no action, got %v", got)
	}
	if m["request_id"] == "" || m["is_shadow"] != false {
		t.Errorf("unexpected header fields: %v", m)
	}

	events := writer.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].ProjectID != "proj_integration_test" || events[0].Source != "grpc" || events[0].UserID != "u1" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestIntegration_ThreatBlocked(t *testing.T) {
	client, _, cleanup := testServer(t, auth.NewStaticAuthenticator(), nil)
	defer cleanup()

	resp, err := client.Moderate(authedCtx(), mustStruct(t, map[string]any{"text": "I will kill you"}))
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if got := actionsOf(t, resp); len(got) == 0 || got[0] != engine.ActionBlock {
		t.Errorf("expected block first, got %v", got)
	}
}

func TestIntegration_ShadowMode(t *testing.T) {
	client, writer, cleanup := testServer(t, &modeAuth{StaticAuthenticator: auth.NewStaticAuthenticator(), mode: "shadow"}, nil)
	defer cleanup()

	resp, err := client.Moderate(authedCtx(), mustStruct(t, map[string]any{"text": "I will kill you"}))
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if resp.AsMap()["is_shadow"] != true {
		t.Error("expected is_shadow")
	}
	if got := actionsOf(t, resp); len(got) != 1 || got[0] != engine.ActionNone {
		t.Errorf("shadow response should report no action, got %v", got)
	}

	events := writer.snapshot()
	if len(events) != 1 || !events[0].IsShadow {
		t.Fatalf("expected one shadow event, got %+v", events)
	}
	if len(events[0].Actions) == 0 || events[0].Actions[0] != engine.ActionBlock {
		t.Errorf("audit must carry the real actions, got %v", events[0].Actions)
	}
}

func TestIntegration_CallerScores(t *testing.T) {
	client, _, cleanup := testServer(t, auth.NewStaticAuthenticator(), nil)
	defer cleanup()

	resp, err := client.Moderate(authedCtx(), mustStruct(t, map[string]any{
		"scores": map[string]any{"spam": "90%"},
	}))
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	cls := resp.AsMap()["classification"].(map[string]any)
	if cls["spam"] != 0.9 {
		t.Errorf("expected spam 0.9, got %v", cls["spam"])
	}
}

func TestIntegration_Errors(t *testing.T) {
	tests := []struct {
		name    string
		auth    auth.Authenticator
		limiter Limiter
		ctx     context.Context
		req     map[string]any
		want    codes.Code
	}{
		{
			name: "missing metadata",
			auth: auth.NewStaticAuthenticator(),
			ctx:  context.Background(),
			req:  map[string]any{"text": "hello"},
			want: codes.Unauthenticated,
		},
		{
			name: "missing project id",
			auth: auth.NewStaticAuthenticator(),
			ctx: metadata.NewOutgoingContext(context.Background(),
				metadata.Pairs("authorization", "Bearer tsk_test_key")),
			req:  map[string]any{"text": "hello"},
			want: codes.Unauthenticated,
		},
		{
			name: "auth backend down",
			auth: &modeAuth{err: fmt.Errorf("%w: dial tcp", auth.ErrAuthUnavailable)},
			ctx:  authedCtx(),
			req:  map[string]any{"text": "hello"},
			want: codes.Unavailable,
		},
		{
			name:    "rate limited",
			auth:    auth.NewStaticAuthenticator(),
			limiter: denyAll{},
			ctx:     authedCtx(),
			req:     map[string]any{"text": "hello"},
			want:    codes.ResourceExhausted,
		},
		{
			name: "empty text",
			auth: auth.NewStaticAuthenticator(),
			ctx:  authedCtx(),
			req:  map[string]any{"text": "   "},
			want: codes.InvalidArgument,
		},
		{
			name: "scores not an object",
			auth: auth.NewStaticAuthenticator(),
			ctx:  authedCtx(),
			req:  map[string]any{"scores": "high"},
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _, cleanup := testServer(t, tt.auth, tt.limiter)
			defer cleanup()

			_, err := client.Moderate(tt.ctx, mustStruct(t, tt.req))
			if got := status.Code(err); got != tt.want {
				t.Errorf("expected %v, got %v (%v)", tt.want, got, err)
			}
		})
	}
}
