package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"blogchat/internal/model"
)

// ConversationStore keeps conversations in process memory. Used by tests and
// by local runs with store.driver = "memory".
type ConversationStore struct {
	mu    sync.RWMutex
	items map[string]model.Conversation
	now   func() time.Time
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{items: make(map[string]model.Conversation), now: time.Now}
}

func (s *ConversationStore) Create(_ context.Context, conversation *model.Conversation) error {
	if conversation.ID == "" {
		return fmt.Errorf("create conversation failed: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[conversation.ID]; ok {
		return fmt.Errorf("create conversation failed: duplicate id %s", conversation.ID)
	}
	now := s.now()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	if conversation.UpdatedAt.IsZero() {
		conversation.UpdatedAt = conversation.CreatedAt
	}
	s.items[conversation.ID] = cloneConversation(*conversation)
	return nil
}

func (s *ConversationStore) FindByIDAndOwner(_ context.Context, id string, ownerID uint) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok || c.OwnerID != ownerID {
		return nil, nil
	}
	out := cloneConversation(c)
	return &out, nil
}

func (s *ConversationStore) ListByOwner(_ context.Context, ownerID uint, page, pageSize int) ([]model.Conversation, bool, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	s.mu.RLock()
	owned := make([]model.Conversation, 0)
	for _, c := range s.items {
		if c.OwnerID == ownerID {
			c := cloneConversation(c)
			c.Markdown = ""
			owned = append(owned, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
		}
		return owned[i].ID < owned[j].ID
	})

	start := (page - 1) * pageSize
	if start >= len(owned) {
		return []model.Conversation{}, false, nil
	}
	end := start + pageSize
	hasMore := end < len(owned)
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], hasMore, nil
}

func (s *ConversationStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.items[id]; ok {
		c.UpdatedAt = s.now()
		s.items[id] = c
	}
	return nil
}

func (s *ConversationStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// Len reports how many conversations are stored.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneConversation(c model.Conversation) model.Conversation {
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}
