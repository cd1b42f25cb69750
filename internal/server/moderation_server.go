package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
)

const (
	// ServiceName is the fully-qualified gRPC service name, also used for
	// health reporting.
	ServiceName    = "modguard.v1.ModerationService"
	moderateMethod = "/" + ServiceName + "/Moderate"

	maxTextBytes = 64 << 10
)

// Limiter admits or rejects one request for a project.
type Limiter interface {
	Allow(projectID string) bool
}

// ModerationServer implements the ModerationService gRPC service.
// Requests and responses are google.protobuf.Struct messages carrying the
// same fields as the HTTP API.
type ModerationServer struct {
	svc     *moderation.Service
	auth    auth.Authenticator
	limiter Limiter
	logger  *zap.Logger
}

// NewModerationServer creates a new ModerationServer. limiter may be nil.
func NewModerationServer(
	svc *moderation.Service,
	authenticator auth.Authenticator,
	limiter Limiter,
	logger *zap.Logger,
) *ModerationServer {
	return &ModerationServer{
		svc:     svc,
		auth:    authenticator,
		limiter: limiter,
		logger:  logger,
	}
}

// Moderate implements the ModerationService.Moderate RPC.
func (s *ModerationServer) Moderate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	// 1. Authenticate
	project, err := s.auth.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuthUnavailable) {
			return nil, status.Errorf(codes.Unavailable, "auth failed: %v", err)
		}
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}

	if s.limiter != nil && !s.limiter.Allow(project.ProjectID) {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	// 2. Build the moderation request
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, err
	}

	// 3. Decide, audit, and apply shadow mode
	res, err := s.svc.Moderate(ctx, project, req)
	if err != nil {
		s.logger.Error("moderation failed", zap.String("project_id", project.ProjectID), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "moderation failed: %v", err)
	}

	return responseToStruct(res.Render())
}

func requestFromStruct(in *structpb.Struct) (*moderation.Request, error) {
	fields := in.GetFields()
	req := &moderation.Request{
		Text:        fields["text"].GetStringValue(),
		UserID:      fields["user_id"].GetStringValue(),
		SessionID:   fields["session_id"].GetStringValue(),
		ContentType: fields["content_type"].GetStringValue(),
		Source:      "grpc",
	}

	if sv, ok := fields["scores"]; ok {
		scores := sv.GetStructValue()
		if scores == nil {
			return nil, status.Error(codes.InvalidArgument, "scores must be an object")
		}
		req.Scores = classifiers.NormalizeRaw(scores.AsMap())
	} else if strings.TrimSpace(req.Text) == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}

	if len(req.Text) > maxTextBytes {
		return nil, status.Error(codes.InvalidArgument, "text exceeds 64 KiB")
	}
	return req, nil
}

// responseToStruct goes through JSON so the wire fields match the HTTP body.
func responseToStruct(resp *moderation.Response) (*structpb.Struct, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// ModerationServiceServer is the server side of the moderation RPC.
type ModerationServiceServer interface {
	Moderate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterModerationServer registers srv on s.
func RegisterModerationServer(s grpc.ServiceRegistrar, srv ModerationServiceServer) {
	s.RegisterService(&moderationServiceDesc, srv)
}

var moderationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModerationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Moderate",
			Handler:    moderateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modguard/v1/moderation.proto",
}

func moderateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModerationServiceServer).Moderate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: moderateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModerationServiceServer).Moderate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ModerationClient calls ModerationService.Moderate on conn.
type ModerationClient struct {
	conn grpc.ClientConnInterface
}

// NewModerationClient wraps an existing connection.
func NewModerationClient(conn grpc.ClientConnInterface) *ModerationClient {
	return &ModerationClient{conn: conn}
}

// Moderate sends req and returns the decoded response struct.
func (c *ModerationClient) Moderate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, moderateMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
