package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/yoockh/yoorelay/internal/models"
	mongorepo "github.com/yoockh/yoorelay/internal/repositories/mongo"
	"github.com/yoockh/yoorelay/internal/utils"
)

// TraceService records how each inbound message moved through the pipeline.
// Traces are operator diagnostics; nothing reads them back into the
// conversation.
type TraceService interface {
	Open(ctx context.Context, msg *models.InboundMessage, kind string) error
	Mark(ctx context.Context, messageID, stage, status, detail string) error
	Get(ctx context.Context, messageID string) (*models.MessageTrace, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.MessageTrace, error)
}

type traceService struct {
	traces mongorepo.TraceRepository
	ttl    time.Duration
}

// NewTraceService returns a no-op service when traces is nil.
func NewTraceService(traces mongorepo.TraceRepository, ttl time.Duration) TraceService {
	if traces == nil {
		return nopTraceService{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &traceService{traces: traces, ttl: ttl}
}

func (s *traceService) Open(ctx context.Context, msg *models.InboundMessage, kind string) error {
	const op = "TraceService.Open"

	if msg == nil || msg.ID == "" || msg.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "message id and user id are required", nil)
	}

	now := time.Now().UTC()
	doc := &models.MessageTrace{
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.traces.Open(ctx, doc); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to open message trace", err)
	}
	return nil
}

func (s *traceService) Mark(ctx context.Context, messageID, stage, status, detail string) error {
	const op = "TraceService.Mark"

	if messageID == "" || stage == "" || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "message_id, stage, and status are required", nil)
	}
	mark := models.StageMark{Stage: stage, Status: status, Detail: detail, At: time.Now().UTC()}
	if err := s.traces.PushStage(ctx, messageID, mark); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to record stage", err)
	}
	return nil
}

func (s *traceService) Get(ctx context.Context, messageID string) (*models.MessageTrace, error) {
	const op = "TraceService.Get"

	if messageID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "message_id is required", nil)
	}
	t, err := s.traces.GetByMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.E(utils.CodeNotFound, op, "trace not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get trace", err)
	}
	return t, nil
}

func (s *traceService) ListByUser(ctx context.Context, userID string, limit int64) ([]models.MessageTrace, error) {
	const op = "TraceService.ListByUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	out, err := s.traces.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list traces", err)
	}
	return out, nil
}

type nopTraceService struct{}

func (nopTraceService) Open(context.Context, *models.InboundMessage, string) error { return nil }
func (nopTraceService) Mark(context.Context, string, string, string, string) error  { return nil }

func (nopTraceService) Get(context.Context, string) (*models.MessageTrace, error) {
	return nil, utils.E(utils.CodeUnavailable, "TraceService.Get", "trace log is not configured", nil)
}

func (nopTraceService) ListByUser(context.Context, string, int64) ([]models.MessageTrace, error) {
	return nil, utils.E(utils.CodeUnavailable, "TraceService.ListByUser", "trace log is not configured", nil)
}
