package classifiers

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

const (
	classifierServiceName = "modguard.classifier.v1.ClassifierService"
	classifyMethod        = "/" + classifierServiceName + "/Classify"
)

// BreakerSettings tunes the circuit breaker in front of the remote model.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures before opening (default 5)
	OpenTimeout time.Duration // time spent open before a half-open probe (default 30s)
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// RemoteClassifier calls a model service over gRPC. Requests and responses
// are google.protobuf.Struct messages: {"text": ...} in, and either
// {"scores": {...}}, a flat category map, or {"raw": "<model text>"} out.
//
// The classifier is conditional, only wired up if CLASSIFIER_ENDPOINT is set.
type RemoteClassifier struct {
	conn    *grpc.ClientConn
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRemoteClassifier creates a gRPC-backed classifier.
// endpoint is a gRPC target (e.g. "classifier.internal:50052").
func NewRemoteClassifier(endpoint string, bs BreakerSettings, logger *zap.Logger) (*RemoteClassifier, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("NewRemoteClassifier: %w", err)
	}

	bs = bs.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote_classifier",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	logger.Info("remote classifier configured",
		zap.String("endpoint", endpoint),
	)

	return &RemoteClassifier{
		conn:    conn,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (c *RemoteClassifier) Name() string {
	return "remote"
}

func (c *RemoteClassifier) Classify(ctx context.Context, text string) (engine.CategoryScores, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("RemoteClassifier.Classify: %w", err)
	}

	resp := &structpb.Struct{}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.conn.Invoke(ctx, classifyMethod, req, resp)
	})
	if err != nil {
		return nil, fmt.Errorf("RemoteClassifier.Classify: %w", err)
	}

	return Postprocess(decodeScores(resp), text), nil
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (c *RemoteClassifier) BreakerState() string {
	return c.breaker.State().String()
}

// Close shuts down the gRPC connection.
func (c *RemoteClassifier) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func decodeScores(resp *structpb.Struct) engine.CategoryScores {
	m := resp.AsMap()
	if nested, ok := m["scores"].(map[string]any); ok {
		return NormalizeRaw(nested)
	}
	if raw, ok := m["raw"].(string); ok {
		return ParseModelOutput(raw)
	}
	return NormalizeRaw(m)
}

// ClassifierServer is the server side of the classifier RPC.
type ClassifierServer interface {
	Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterClassifierServer registers srv on s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Classify",
			Handler:    classifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modguard/classifier/v1/classifier.proto",
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: classifyMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).Classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// classifierService exposes any engine.Classifier over the classifier RPC.
type classifierService struct {
	c engine.Classifier
}

// NewClassifierService wraps c so it can be served as a remote classifier.
func NewClassifierService(c engine.Classifier) ClassifierServer {
	return &classifierService{c: c}
}

func (s *classifierService) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	textVal, ok := req.GetFields()["text"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	scores, err := s.c.Classify(ctx, textVal.GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "classify: %v", err)
	}

	out := make(map[string]any, len(engine.HarmfulCategories))
	for _, cat := range engine.HarmfulCategories {
		out[string(cat)] = scores.Get(cat)
	}
	return structpb.NewStruct(map[string]any{"scores": out})
}
