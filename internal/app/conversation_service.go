package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"blogchat/internal/model"
	"blogchat/internal/vectorindex"
)

const (
	ConversationPageSize = 10

	DeletionModeQueue = "queue"
	DeletionModeSync  = "sync"

	defaultSyncDeleteAttempts = 3
)

type ConversationService struct {
	conversations ConversationStore
	messages      MessageStore
	historyCache  HistoryCache
	index         vectorindex.Index
	publisher     VectorDeletionPublisher
	mode          string
	syncAttempts  int
	syncBackoff   time.Duration
	logger        *zap.Logger
}

// NewConversationService builds the service. publisher is only used when mode
// is DeletionModeQueue; historyCache may be nil.
func NewConversationService(
	conversations ConversationStore,
	messages MessageStore,
	historyCache HistoryCache,
	index vectorindex.Index,
	publisher VectorDeletionPublisher,
	mode string,
	logger *zap.Logger,
) *ConversationService {
	if mode != DeletionModeQueue {
		mode = DeletionModeSync
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		historyCache:  historyCache,
		index:         index,
		publisher:     publisher,
		mode:          mode,
		syncAttempts:  defaultSyncDeleteAttempts,
		syncBackoff:   500 * time.Millisecond,
		logger:        logger.Named("conversation"),
	}
}

func (s *ConversationService) GetConversation(ctx context.Context, ownerID uint, conversationID string) (*model.Conversation, error) {
	return ownedConversation(ctx, s.conversations, ownerID, conversationID)
}

// ListConversations returns page (1-based) of the owner's conversations and
// whether another page follows.
func (s *ConversationService) ListConversations(ctx context.Context, ownerID uint, page int) ([]model.Conversation, bool, error) {
	if ownerID == 0 {
		return nil, false, ErrUnauthenticated
	}
	if page < 1 {
		return nil, false, ErrInvalidInput
	}
	return s.conversations.ListByOwner(ctx, ownerID, page, ConversationPageSize)
}

// DeleteConversation removes messages, then the conversation, then its
// vectors. Vector deletion failures are logged and never undo the first two
// steps.
func (s *ConversationService) DeleteConversation(ctx context.Context, ownerID uint, conversationID string) error {
	if _, err := ownedConversation(ctx, s.conversations, ownerID, conversationID); err != nil {
		return err
	}
	log := s.logger.With(zap.String("conversation_id", conversationID))

	if err := s.messages.DeleteByConversation(ctx, conversationID); err != nil {
		return err
	}
	if err := s.conversations.DeleteByID(ctx, conversationID); err != nil {
		return err
	}
	if s.historyCache != nil {
		if err := s.historyCache.DeleteHistory(ctx, conversationID); err != nil {
			log.Warn("drop history cache failed", zap.Error(err))
		}
	}

	// The record is gone; vector cleanup must not depend on the caller staying.
	vctx := context.WithoutCancel(ctx)
	if s.mode == DeletionModeQueue && s.publisher != nil {
		err := s.publisher.PublishVectorDeletion(vctx, conversationID)
		if err == nil {
			log.Info("vector deletion queued")
			return nil
		}
		log.Warn("queue vector deletion failed, deleting inline", zap.Error(err))
	}
	if err := s.deleteVectors(vctx, conversationID); err != nil {
		log.Error("vector deletion failed", zap.Error(err), zap.String("alert", "orphaned_vectors"))
		return nil
	}
	log.Info("vectors deleted")
	return nil
}

func (s *ConversationService) deleteVectors(ctx context.Context, conversationID string) error {
	filter := vectorindex.Filter{ConversationID: conversationID}
	var err error
	for attempt := 1; attempt <= s.syncAttempts; attempt++ {
		if err = s.index.DeleteByFilter(ctx, filter); err == nil {
			return nil
		}
		if attempt < s.syncAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.syncBackoff):
			}
		}
	}
	return err
}

func ownedConversation(ctx context.Context, store ConversationStore, ownerID uint, conversationID string) (*model.Conversation, error) {
	if ownerID == 0 {
		return nil, ErrUnauthenticated
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrInvalidInput
	}
	conversation, err := store.FindByIDAndOwner(ctx, conversationID, ownerID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}
