package services

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yoockh/yoorelay/internal/models"
	pgrepo "github.com/yoockh/yoorelay/internal/repositories/postgres"
	"github.com/yoockh/yoorelay/internal/utils"
)

// ArchiveService keeps a durable, write-behind copy of appended turns. The
// in-memory history never reads from it.
type ArchiveService interface {
	Append(ctx context.Context, userID, messageID string, role models.Role, content string, metadata map[string]any) (*models.ConversationLog, error)
	Recent(ctx context.Context, userID string, limit int) ([]models.ConversationLog, error)
	Forget(ctx context.Context, userID string) (int64, error)
}

type archiveService struct {
	convos pgrepo.ConversationRepo
}

// NewArchiveService returns a no-op service when convos is nil.
func NewArchiveService(convos pgrepo.ConversationRepo) ArchiveService {
	if convos == nil {
		return nopArchiveService{}
	}
	return &archiveService{convos: convos}
}

func (s *archiveService) Append(ctx context.Context, userID, messageID string, role models.Role, content string, metadata map[string]any) (*models.ConversationLog, error) {
	const op = "ArchiveService.Append"

	// empty content is archived as-is, same as the in-memory history
	if userID == "" || role == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and role are required", nil)
	}

	row := &models.ConversationLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		MessageID: messageID,
		Role:      string(role),
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if len(metadata) > 0 {
		b, err := sonic.Marshal(metadata)
		if err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "invalid metadata", err)
		}
		row.Metadata = datatypes.JSON(b)
	}

	if err := s.convos.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert conversation log", err)
	}
	return row, nil
}

// Recent returns the latest turns oldest first.
func (s *archiveService) Recent(ctx context.Context, userID string, limit int) ([]models.ConversationLog, error) {
	const op = "ArchiveService.Recent"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	rows, err := s.convos.LatestN(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}

	// repo returns DESC
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *archiveService) Forget(ctx context.Context, userID string) (int64, error) {
	const op = "ArchiveService.Forget"

	if userID == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	n, err := s.convos.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to delete conversations", err)
	}
	return n, nil
}

type nopArchiveService struct{}

func (nopArchiveService) Append(context.Context, string, string, models.Role, string, map[string]any) (*models.ConversationLog, error) {
	return nil, nil
}

func (nopArchiveService) Recent(context.Context, string, int) ([]models.ConversationLog, error) {
	return nil, utils.E(utils.CodeUnavailable, "ArchiveService.Recent", "archive is not configured", nil)
}

func (nopArchiveService) Forget(context.Context, string) (int64, error) { return 0, nil }
