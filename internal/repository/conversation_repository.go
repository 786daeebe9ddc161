package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"blogchat/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

// FindByIDAndOwner returns nil when the conversation is missing or owned by
// someone else.
func (r *ConversationRepository) FindByIDAndOwner(ctx context.Context, id string, ownerID uint) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conversation, nil
}

// ListByOwner returns one page (1-based) ordered by most recent activity and
// whether another page follows.
func (r *ConversationRepository) ListByOwner(ctx context.Context, ownerID uint, page, pageSize int) ([]model.Conversation, bool, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	var list []model.Conversation
	err := r.db.WithContext(ctx).
		Omit("markdown").
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize + 1).
		Find(&list).Error
	if err != nil {
		return nil, false, fmt.Errorf("list conversations failed: %w", err)
	}
	hasMore := len(list) > pageSize
	if hasMore {
		list = list[:pageSize]
	}
	return list, hasMore, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Update("updated_at", time.Now()).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Conversation{}).Error; err != nil {
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}
