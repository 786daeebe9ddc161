package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blogchat/internal/model"
)

type UserStore struct {
	mu     sync.RWMutex
	nextID uint
	users  map[uint]model.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uint]model.User)}
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("create user failed: duplicate username or email")
		}
	}
	s.nextID++
	user.ID = s.nextID
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return s.find(func(u model.User) bool { return u.Username == username }), nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return s.find(func(u model.User) bool { return u.Email == email }), nil
}

func (s *UserStore) GetByID(_ context.Context, id uint) (*model.User, error) {
	return s.find(func(u model.User) bool { return u.ID == id }), nil
}

func (s *UserStore) find(match func(model.User) bool) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			out := u
			return &out
		}
	}
	return nil
}
