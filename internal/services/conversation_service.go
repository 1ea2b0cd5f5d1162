package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-chatops/internal/api"
	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

// TurnPipeline is the conversation engine behind the service.
type TurnPipeline interface {
	HandleTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
	Services(filter string) []models.Entity
}

// CatalogProvider exposes the published catalog snapshot for health reports.
type CatalogProvider interface {
	Current() *catalog.Snapshot
}

// ConversationService implements the gRPC ConversationService and doubles as
// the HTTP conversation backend, recording turn latency for both.
type ConversationService struct {
	logger     *slog.Logger
	pipeline   TurnPipeline
	catalog    CatalogProvider
	completion string
	latencies  *utils.LatencyTracker
}

// NewConversationService constructs the service facade. completion names the
// selected completion backend, or is empty for rules only.
func NewConversationService(logger *slog.Logger, pipeline TurnPipeline, catalogProvider CatalogProvider, completion string) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		logger:     logger,
		pipeline:   pipeline,
		catalog:    catalogProvider,
		completion: completion,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// HandleTurn runs one turn through the pipeline and records its latency.
func (s *ConversationService) HandleTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error) {
	if s.pipeline == nil {
		return models.TurnResult{}, utils.NewAppError("service.HandleTurn", "pipeline not configured", nil)
	}
	start := time.Now()
	res, err := s.pipeline.HandleTurn(ctx, sessionID, text)
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("turn latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return res, err
}

// Reset clears one session.
func (s *ConversationService) Reset(ctx context.Context, sessionID string) error {
	if s.pipeline == nil {
		return utils.NewAppError("service.Reset", "pipeline not configured", nil)
	}
	return s.pipeline.Reset(ctx, sessionID)
}

// Services lists catalog entities matching filter.
func (s *ConversationService) Services(filter string) []models.Entity {
	if s.pipeline == nil {
		return nil
	}
	return s.pipeline.Services(filter)
}

// Health reports readiness. The service is not serving until a catalog
// snapshot with at least one entity has been published.
func (s *ConversationService) Health() api.HealthPayload {
	out := api.HealthPayload{
		Status:       "SERVING",
		Completion:   s.completion,
		LatencyP95MS: s.LatencyP95().Milliseconds(),
	}
	if s.catalog != nil {
		if snap := s.catalog.Current(); snap != nil {
			out.CatalogEntities = snap.Len()
			out.CatalogVersion = snap.Version()
		}
	}
	if out.CatalogEntities == 0 {
		out.Status = "NOT_SERVING"
	}
	return out
}

// LatencyP95 returns the current p95 turn latency.
func (s *ConversationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// GRPC adapts the service to api.ConversationServiceServer.
func (s *ConversationService) GRPC() api.ConversationServiceServer {
	return grpcService{s}
}

type grpcService struct {
	svc *ConversationService
}

func (g grpcService) HandleTurn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.FromStructTurnRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	g.svc.logger.Debug("HandleTurn called", slog.String("session", req.SessionID))

	res, err := g.svc.HandleTurn(ctx, req.SessionID, req.Text)
	payload := api.ToTurnPayload(res)
	if err != nil {
		return nil, turnStatus(err, payload, res.Intent != nil)
	}
	out, err := api.ToStruct(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (g grpcService) ResetSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.SessionRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := g.svc.Reset(ctx, req.SessionID); err != nil {
		return nil, status.Error(CodeFor(err), err.Error())
	}
	return api.ToStruct(map[string]any{"session_id": req.SessionID, "reset": true})
}

func (g grpcService) ListServices(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ServicesRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := api.ToStruct(api.ServicesPayload{Services: g.svc.Services(req.Filter)})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (g grpcService) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	out, err := api.ToStruct(g.svc.Health())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// CodeFor maps error kinds onto gRPC status codes.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	switch utils.KindOf(err) {
	case utils.ErrValidation:
		return codes.InvalidArgument
	case utils.ErrNotFound:
		return codes.NotFound
	case utils.ErrUpstreamUnavailable:
		return codes.Unavailable
	case utils.ErrAmbiguousReference:
		return codes.FailedPrecondition
	case utils.ErrInternalInconsistency:
		return codes.Internal
	}
	return codes.Internal
}

// turnStatus builds the status for a failed turn, attaching the locally
// resolved payload when there is one.
func turnStatus(err error, payload api.TurnPayload, resolved bool) error {
	st := status.New(CodeFor(err), err.Error())
	if !resolved {
		return st.Err()
	}
	detail, convErr := api.ToStruct(payload)
	if convErr != nil {
		return st.Err()
	}
	withDetail, detailErr := st.WithDetails(protoadapt.MessageV1Of(detail))
	if detailErr != nil {
		return st.Err()
	}
	return withDetail.Err()
}
