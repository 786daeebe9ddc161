package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"blogchat/internal/model"
)

type MessageStore struct {
	mu     sync.RWMutex
	nextID uint
	byConv map[string][]model.Message
	now    func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byConv: make(map[string][]model.Message), now: time.Now}
}

func (s *MessageStore) Create(_ context.Context, message *model.Message) error {
	if message.ConversationID == "" {
		return fmt.Errorf("create message failed: empty conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	message.ID = s.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}
	message.UpdatedAt = message.CreatedAt
	list := append(s.byConv[message.ConversationID], *message)
	sort.SliceStable(list, func(i, j int) bool { return less(list[i], list[j]) })
	s.byConv[message.ConversationID] = list
	return nil
}

func (s *MessageStore) ListByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message{}, s.byConv[conversationID]...), nil
}

func (s *MessageStore) ListRecent(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byConv[conversationID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]model.Message{}, list...), nil
}

func (s *MessageStore) LatestByConversation(_ context.Context, conversationID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byConv[conversationID]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func (s *MessageStore) DeleteByConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byConv, conversationID)
	return nil
}

// Count reports how many messages belong to a conversation.
func (s *MessageStore) Count(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConv[conversationID])
}

func less(a, b model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
