package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"latentloop/internal/schema"
)

// MemUserStore is an in-memory UserStore for tests. Records round-trip
// through JSON on Get and Put so callers see the same
// mutate-then-Put-to-persist semantics as the file store.
type MemUserStore struct {
	mu    sync.RWMutex
	users map[string][]byte
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: map[string][]byte{}}
}

func (s *MemUserStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemUserStore) Get(_ context.Context, id string) (*schema.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("store: user %s: %w", id, ErrNotFound)
	}
	var user schema.User
	if err := json.Unmarshal(b, &user); err != nil {
		return nil, fmt.Errorf("store: decode user %s: %w", id, err)
	}
	user.ID = id
	return &user, nil
}

func (s *MemUserStore) Put(_ context.Context, id string, user *schema.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("store: encode user %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = b
	return nil
}

// MemTemplateStore is an in-memory TemplateStore for tests.
type MemTemplateStore struct {
	mu        sync.RWMutex
	templates map[int]*schema.Template
	latest    int
}

func NewMemTemplateStore() *MemTemplateStore {
	return &MemTemplateStore{templates: map[int]*schema.Template{}, latest: -1}
}

func (s *MemTemplateStore) Latest(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest < 0 {
		return 0, fmt.Errorf("store: templates: %w", ErrNotFound)
	}
	return s.latest, nil
}

func (s *MemTemplateStore) Exists(_ context.Context, version int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[version]
	return ok, nil
}

func (s *MemTemplateStore) Get(_ context.Context, version int) (*schema.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[version]
	if !ok {
		return nil, fmt.Errorf("store: template %d: %w", version, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemTemplateStore) Put(_ context.Context, version int, t *schema.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[version] = &cp
	if version > s.latest {
		s.latest = version
	}
	return nil
}
