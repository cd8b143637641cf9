package user

import (
	"context"
	"sync"
)

// MemoryStore はプロセス内にユーザーを保持するストアです（開発・テスト用）。
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]string
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]User),
		byName: make(map[string]string),
	}
}

// Create はユーザーを保存します。
func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	if err := validateNew(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[u.Username]; exists {
		return duplicateError(u.Username)
	}
	s.byID[u.ID] = *u
	s.byName[u.Username] = u.ID
	return nil
}

// FindByID はIDでユーザーを取得します。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, notFoundError("id", id)
	}
	return &u, nil
}

// FindByUsername はユーザー名でユーザーを取得します。
func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return nil, notFoundError("username", username)
	}
	u := s.byID[id]
	return &u, nil
}

// Delete はIDでユーザーを削除します。
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFoundError("id", id)
	}
	delete(s.byID, id)
	delete(s.byName, u.Username)
	return nil
}

// Len は保存されているユーザー数を返します。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
