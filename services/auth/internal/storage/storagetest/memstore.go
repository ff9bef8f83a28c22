// Package storagetest provides an in-memory stand-in for the Postgres store
// with the same conditional update semantics.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/google/uuid"
)

type MemStore struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*storage.User
	tokens map[string]*storage.RefreshToken

	// Err, when set, is returned by every call.
	Err error
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:  map[uuid.UUID]*storage.User{},
		tokens: map[string]*storage.RefreshToken{},
	}
}

// Token returns a copy of the refresh record with id.
func (s *MemStore) Token(id string) (storage.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return storage.RefreshToken{}, false
	}
	return *t, true
}

// UpdateToken applies fn to the stored record with id.
func (s *MemStore) UpdateToken(id string, fn func(*storage.RefreshToken)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[id]; ok {
		fn(t)
	}
}

// ActiveTokens counts unrevoked records of userID.
func (s *MemStore) ActiveTokens(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && !t.IsRevoked {
			n++
		}
	}
	return n
}

func (s *MemStore) Ping(context.Context) error { return s.Err }

func (s *MemStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *MemStore) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *MemStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for _, u := range s.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) CreateUser(_ context.Context, in storage.NewUser) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(in)
}

// CreateUserWithSession keeps the user only when mint succeeds.
func (s *MemStore) CreateUserWithSession(_ context.Context, in storage.NewUser, mint func(*storage.User) (storage.RefreshToken, error)) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.createUserLocked(in)
	if err != nil {
		return nil, err
	}
	t, err := mint(u)
	if err != nil {
		delete(s.users, u.ID)
		return nil, err
	}
	t.IsRevoked = false
	s.tokens[t.ID] = &t
	return u, nil
}

func (s *MemStore) createUserLocked(in storage.NewUser) (*storage.User, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.Email == in.Email {
			return nil, storage.ErrEmailTaken
		}
		if u.Username == in.Username {
			return nil, storage.ErrUsernameTaken
		}
	}
	role := in.Role
	if role == "" {
		role = storage.RoleUser
	}
	now := time.Now().UTC()
	u := &storage.User{
		ID:           uuid.New(),
		Email:        in.Email,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		Role:         role,
		Status:       storage.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *MemStore) TouchLastActive(_ context.Context, userID uuid.UUID, at time.Time) error {
	return s.updateUser(userID, func(u *storage.User) { u.LastActiveAt = &at })
}

func (s *MemStore) UpdatePasswordHash(_ context.Context, userID uuid.UUID, hash string) error {
	return s.updateUser(userID, func(u *storage.User) { u.PasswordHash = hash })
}

func (s *MemStore) SetUserStatus(_ context.Context, userID uuid.UUID, status string) error {
	return s.updateUser(userID, func(u *storage.User) { u.Status = status })
}

func (s *MemStore) updateUser(id uuid.UUID, fn func(*storage.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) CreateRefreshToken(_ context.Context, t storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t.IsRevoked = false
	s.tokens[t.ID] = &t
	return nil
}

func (s *MemStore) FindValidRefreshToken(_ context.Context, id, hash string, now time.Time) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.tokens[id]
	if !ok || !valid(t, hash, now) {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) RevokeRefreshToken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	t, ok := s.tokens[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (s *MemStore) RotateRefreshToken(_ context.Context, oldID, oldHash string, now time.Time, next storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.tokens[oldID]
	if !ok || !valid(t, oldHash, now) {
		return storage.ErrTokenNotActive
	}
	t.IsRevoked = true
	next.IsRevoked = false
	s.tokens[next.ID] = &next
	return nil
}

func (s *MemStore) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, t := range s.tokens {
		if !t.ExpiresAt.After(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func valid(t *storage.RefreshToken, hash string, now time.Time) bool {
	return !t.IsRevoked && t.TokenHash == hash && t.ExpiresAt.After(now)
}
