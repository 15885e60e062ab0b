package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/utils"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Insert(ctx context.Context, log *models.ConversationLog) error
	LatestN(ctx context.Context, userID string, n int) ([]models.ConversationLog, error)
	GetByID(ctx context.Context, id string) (*models.ConversationLog, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, log *models.ConversationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *conversationRepo) LatestN(ctx context.Context, userID string, n int) ([]models.ConversationLog, error) {
	if n <= 0 {
		n = 50
	}
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (*models.ConversationLog, error) {
	var row models.ConversationLog
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *conversationRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.ConversationLog{})
	return res.RowsAffected, res.Error
}
