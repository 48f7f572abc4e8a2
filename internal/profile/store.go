package profile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"vita/internal/domain"
	"vita/internal/repo"
)

// DefaultSession is used when a caller does not name a session.
const DefaultSession = "default"

// Store persists one profile per session. Get on an unknown session returns an empty profile.
type Store interface {
	Get(ctx context.Context, session string) (domain.UserProfile, error)
	Put(ctx context.Context, session string, p domain.UserProfile) error
	Clear(ctx context.Context, session string) error
}

// SessionKey normalizes a session id.
func SessionKey(session string) string {
	session = strings.TrimSpace(session)
	if session == "" {
		return DefaultSession
	}
	return session
}

// SQLStore keeps profiles in the profiles table.
type SQLStore struct {
	Repo repo.Repo
}

func (s SQLStore) Get(ctx context.Context, session string) (domain.UserProfile, error) {
	p, err := s.Repo.GetProfile(ctx, SessionKey(session))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{}, nil
	}
	return p, err
}

func (s SQLStore) Put(ctx context.Context, session string, p domain.UserProfile) error {
	return s.Repo.UpsertProfile(ctx, SessionKey(session), p)
}

func (s SQLStore) Clear(ctx context.Context, session string) error {
	return s.Repo.DeleteProfile(ctx, SessionKey(session))
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: map[string]domain.UserProfile{}}
}

func (s *MemoryStore) Get(_ context.Context, session string) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[SessionKey(session)], nil
}

func (s *MemoryStore) Put(_ context.Context, session string, p domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[SessionKey(session)] = p
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, SessionKey(session))
	return nil
}
