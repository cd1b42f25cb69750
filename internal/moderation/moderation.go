// Package moderation runs one request through the engine on behalf of an
// authenticated project and records the outcome. The HTTP and gRPC
// transports both call it, so shadow handling and auditing stay identical.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/metrics"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
)

// DefaultContentType is recorded when the caller does not name one.
const DefaultContentType = "text"

// Request is one content item from an authenticated project.
type Request struct {
	Text        string
	UserID      string
	SessionID   string
	ContentType string
	Source      string // "http", "grpc"

	// Scores, when non-nil, skip classification and are evaluated as given.
	Scores engine.CategoryScores
}

// Result pairs the decision that was audited with the one to return.
type Result struct {
	RequestID string
	// Decision is the real pipeline output.
	Decision *engine.Decision
	// Visible equals Decision for enforcing projects and its shadowed view
	// for shadow-mode projects.
	Visible  *engine.Decision
	IsShadow bool
	Elapsed  time.Duration
}

// FailedClassifiers lists the classifiers that errored or timed out.
func (r *Result) FailedClassifiers() []string {
	out := []string{}
	if r == nil || r.Decision == nil {
		return out
	}
	for _, c := range r.Decision.Classifiers {
		if c.Err != "" {
			out = append(out, c.Name)
		}
	}
	return out
}

// Service wires the engine to the audit writer and metrics.
type Service struct {
	engine  *engine.ModerationEngine
	writer  storage.EventWriter
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewService creates a Service. writer and rec may be nil.
func NewService(eng *engine.ModerationEngine, writer storage.EventWriter, rec *metrics.Recorder, logger *zap.Logger) *Service {
	return &Service{
		engine:  eng,
		writer:  writer,
		metrics: rec,
		logger:  logger,
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *engine.ModerationEngine {
	return s.engine
}

// Moderate decides req for proj. A project override that no longer applies
// to the live table is logged and ignored, so the call only fails if the
// live table itself cannot be evaluated.
func (s *Service) Moderate(ctx context.Context, proj *auth.ProjectContext, req *Request) (*Result, error) {
	start := time.Now()

	var override *engine.PolicyOverride
	if proj != nil {
		override = proj.Override
	}

	d, err := s.decide(ctx, req, override)
	if err != nil && override != nil {
		s.logger.Warn("project override rejected by live table, using live table",
			zap.String("project_id", proj.ProjectID),
			zap.Error(err),
		)
		d, err = s.decide(ctx, req, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("Service.Moderate: %w", err)
	}

	res := &Result{
		RequestID: uuid.New().String(),
		Decision:  d,
		Visible:   d,
	}
	if proj.IsShadow() {
		res.IsShadow = true
		res.Visible = d.Shadowed()
	}
	res.Elapsed = time.Since(start)

	s.metrics.ObserveDecision(d)
	s.record(proj, req, res)
	return res, nil
}

func (s *Service) decide(ctx context.Context, req *Request, override *engine.PolicyOverride) (*engine.Decision, error) {
	if req.Scores != nil {
		return s.engine.Decide(req.Scores, req.Text, override)
	}
	return s.engine.Moderate(ctx, &engine.ModerateRequest{Text: req.Text, Override: override})
}

// record hands the real decision to the async audit writer.
func (s *Service) record(proj *auth.ProjectContext, req *Request, res *Result) {
	if s.writer == nil {
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	meta := storage.EventMeta{
		RequestID:   res.RequestID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		ContentType: contentType,
		Source:      req.Source,
		IsShadow:    res.IsShadow,
	}
	if proj != nil {
		meta.ProjectID = proj.ProjectID
	}
	s.writer.Write(storage.NewModerationEvent(meta, req.Text, res.Decision))
}
