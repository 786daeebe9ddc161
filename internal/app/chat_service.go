package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"blogchat/internal/model"
)

const persistTimeout = 10 * time.Second

type ChatService struct {
	conversations ConversationStore
	messages      MessageStore
	historyCache  HistoryCache
	turnLock      TurnLock
	chain         *RetrievalChain
	historyWindow int
	logger        *zap.Logger
}

// AITurnResult is the terminating record of an AI turn: the persisted AI
// message.
type AITurnResult struct {
	Message     model.Message `json:"message"`
	Interrupted bool          `json:"interrupted"`
	Phase       TurnPhase     `json:"-"`
}

type SendTurnResult struct {
	Human model.Message
	AI    *AITurnResult
}

// NewChatService builds the chat service. historyCache and turnLock may be nil.
func NewChatService(
	conversations ConversationStore,
	messages MessageStore,
	historyCache HistoryCache,
	turnLock TurnLock,
	chain *RetrievalChain,
	historyWindow int,
	logger *zap.Logger,
) *ChatService {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		historyCache:  historyCache,
		turnLock:      turnLock,
		chain:         chain,
		historyWindow: historyWindow,
		logger:        logger.Named("chat"),
	}
}

// PostUserTurn appends a human message to an owned conversation.
func (s *ChatService) PostUserTurn(ctx context.Context, ownerID uint, conversationID, text string) (*model.Message, error) {
	if _, err := ownedConversation(ctx, s.conversations, ownerID, conversationID); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	message := &model.Message{
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Role:           model.RoleHuman,
		Content:        content,
	}
	s.beginWrite(ctx, conversationID)
	err := s.messages.Create(ctx, message)
	s.endWrite(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(ctx, conversationID); err != nil {
		s.logger.Warn("touch conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return message, nil
}

// GenerateAITurn answers the latest human message of the conversation.
// Fragments are passed to onFragment as they arrive. The returned result
// carries the persisted AI message.
func (s *ChatService) GenerateAITurn(
	ctx context.Context,
	ownerID uint,
	conversationID string,
	onFragment func(string) error,
) (*AITurnResult, error) {
	if _, err := ownedConversation(ctx, s.conversations, ownerID, conversationID); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("conversation_id", conversationID))

	if s.turnLock != nil {
		token, ok, err := s.turnLock.TryLock(ctx, conversationID)
		switch {
		case err != nil:
			log.Warn("turn lock unavailable, continuing unlocked", zap.Error(err))
		case !ok:
			return nil, ErrTurnInProgress
		default:
			defer func() {
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
				defer cancel()
				if err := s.turnLock.Unlock(uctx, conversationID, token); err != nil {
					log.Warn("release turn lock failed", zap.Error(err))
				}
			}()
		}
	}

	latest, err := s.messages.LatestByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Role != model.RoleHuman {
		return nil, ErrNoRecentHumanMessage
	}

	history, err := s.historyBefore(ctx, conversationID, *latest)
	if err != nil {
		return nil, err
	}

	if onFragment == nil {
		onFragment = func(string) error { return nil }
	}
	result, err := s.chain.Run(ctx, conversationID, history, latest.Content, onFragment)
	if err != nil {
		log.Error("generation failed", zap.Stringer("phase", result.Phase), zap.Error(err))
		return nil, err
	}

	// The answer is stored even if the caller has gone away.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	message := &model.Message{
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Role:           model.RoleAI,
		Content:        result.Answer,
	}
	s.beginWrite(pctx, conversationID)
	err = s.messages.Create(pctx, message)
	s.endWrite(pctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(pctx, conversationID); err != nil {
		log.Warn("touch conversation failed", zap.Error(err))
	}

	turn := &AITurnResult{Message: *message, Phase: PhasePersisted}
	if result.Phase == PhaseInterrupted {
		turn.Interrupted = true
		turn.Phase = PhaseInterrupted
		log.Info("partial answer persisted", zap.Uint("message_id", message.ID), zap.Error(result.Cause))
	}
	return turn, nil
}

// SendTurn posts the human message and answers it in one call.
func (s *ChatService) SendTurn(
	ctx context.Context,
	ownerID uint,
	conversationID, text string,
	onFragment func(string) error,
) (*SendTurnResult, error) {
	human, err := s.PostUserTurn(ctx, ownerID, conversationID, text)
	if err != nil {
		return nil, err
	}
	turn, err := s.GenerateAITurn(ctx, ownerID, conversationID, onFragment)
	if err != nil {
		return &SendTurnResult{Human: *human}, err
	}
	return &SendTurnResult{Human: *human, AI: turn}, nil
}

// ListMessages returns every message of an owned conversation in order.
func (s *ChatService) ListMessages(ctx context.Context, ownerID uint, conversationID string) ([]model.Message, error) {
	if _, err := ownedConversation(ctx, s.conversations, ownerID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID)
}

// historyBefore returns up to historyWindow messages preceding latest.
func (s *ChatService) historyBefore(ctx context.Context, conversationID string, latest model.Message) ([]model.Message, error) {
	recent, hit := s.cachedWindow(ctx, conversationID)
	if !hit || len(recent) == 0 || recent[len(recent)-1].ID != latest.ID {
		var err error
		recent, err = s.messages.ListRecent(ctx, conversationID, s.historyWindow+1)
		if err != nil {
			return nil, err
		}
		s.storeWindow(ctx, conversationID, recent)
	}

	history := make([]model.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != latest.ID {
			history = append(history, m)
		}
	}
	if len(history) > s.historyWindow {
		history = history[len(history)-s.historyWindow:]
	}
	return history, nil
}

func (s *ChatService) cachedWindow(ctx context.Context, conversationID string) ([]model.Message, bool) {
	if s.historyCache == nil {
		return nil, false
	}
	dirty, err := s.historyCache.IsDirty(ctx, conversationID)
	if err != nil || dirty {
		return nil, false
	}
	cached, hit, err := s.historyCache.GetHistory(ctx, conversationID)
	if err != nil {
		s.logger.Warn("read history cache failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, false
	}
	return cached, hit
}

func (s *ChatService) storeWindow(ctx context.Context, conversationID string, messages []model.Message) {
	if s.historyCache == nil {
		return
	}
	if dirty, err := s.historyCache.IsDirty(ctx, conversationID); err != nil || dirty {
		return
	}
	if err := s.historyCache.SetHistory(ctx, conversationID, messages); err != nil {
		s.logger.Warn("write history cache failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// beginWrite drops the cached window and keeps it from being refilled until
// endWrite runs.
func (s *ChatService) beginWrite(ctx context.Context, conversationID string) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.MarkDirty(ctx, conversationID); err != nil {
		s.logger.Warn("mark history dirty failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	_ = s.historyCache.DeleteHistory(ctx, conversationID)
}

// endWrite drops any window cached from before the write landed and lets the
// next read refill the cache.
func (s *ChatService) endWrite(ctx context.Context, conversationID string) {
	if s.historyCache == nil {
		return
	}
	_ = s.historyCache.DeleteHistory(ctx, conversationID)
	if err := s.historyCache.ClearDirty(ctx, conversationID); err != nil {
		s.logger.Warn("clear history dirty failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
