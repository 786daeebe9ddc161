package app

import (
	"context"

	"blogchat/internal/ai"
	"blogchat/internal/model"
)

type ConversationStore interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	// FindByIDAndOwner returns nil, nil when the conversation is absent or not owned by ownerID.
	FindByIDAndOwner(ctx context.Context, id string, ownerID uint) (*model.Conversation, error)
	ListByOwner(ctx context.Context, ownerID uint, page, pageSize int) ([]model.Conversation, bool, error)
	Touch(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
}

type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	LatestByConversation(ctx context.Context, conversationID string) (*model.Message, error)
	DeleteByConversation(ctx context.Context, conversationID string) error
}

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	ClearDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

// TurnLock serializes AI turns per conversation.
type TurnLock interface {
	TryLock(ctx context.Context, conversationID string) (token string, ok bool, err error)
	Unlock(ctx context.Context, conversationID, token string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ChatModel interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(chunk string) error) (string, error)
}

type VectorDeletionPublisher interface {
	PublishVectorDeletion(ctx context.Context, conversationID string) error
}
