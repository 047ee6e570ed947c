package repository

import (
	"context"
	"sync"
	"time"

	"github.com/idgate/idgate/internal/models"
)

// MemoryUserRepository is an in-process UserStore for local runs and tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	order   []string
	byEmail map[string]string
	byPhone map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(id), nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byEmail[email]), nil
}

func (r *MemoryUserRepository) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byPhone[phone]), nil
}

func (r *MemoryUserRepository) FindAll(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, *r.users[id])
	}
	return users, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return models.ErrDuplicateEmail
	}
	if _, ok := r.byPhone[user.Phone]; ok {
		return models.ErrDuplicatePhone
	}

	stored := *user
	r.users[user.ID] = &stored
	r.order = append(r.order, user.ID)
	r.byEmail[user.Email] = user.ID
	r.byPhone[user.Phone] = user.ID
	return nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, id string, patch models.ProfilePatch, updatedAt time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	if patch.Email != "" {
		if owner, taken := r.byEmail[patch.Email]; taken && owner != id {
			return nil, models.ErrDuplicateEmail
		}
	}
	if patch.Phone != "" {
		if owner, taken := r.byPhone[patch.Phone]; taken && owner != id {
			return nil, models.ErrDuplicatePhone
		}
	}

	if patch.Name != "" {
		user.Name = patch.Name
	}
	if patch.Email != "" {
		delete(r.byEmail, user.Email)
		user.Email = patch.Email
		r.byEmail[user.Email] = id
	}
	if patch.Phone != "" {
		delete(r.byPhone, user.Phone)
		user.Phone = patch.Phone
		r.byPhone[user.Phone] = id
	}
	user.UpdatedAt = updatedAt
	return r.copyOf(id), nil
}

func (r *MemoryUserRepository) SetPassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	return nil
}

func (r *MemoryUserRepository) SetAdmin(_ context.Context, id string, admin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.IsAdmin = admin
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryUserRepository) SetVerified(_ context.Context, id string, verified bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return false, models.ErrUserNotFound
	}
	prior := user.IsVerified
	user.IsVerified = verified
	return prior, nil
}

func (r *MemoryUserRepository) copyOf(id string) *models.User {
	user, ok := r.users[id]
	if !ok {
		return nil
	}
	c := *user
	return &c
}

type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]models.OTPRecord
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{records: make(map[string]models.OTPRecord)}
}

func (s *MemoryOTPStore) Store(_ context.Context, record models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Email] = record
	return nil
}

func (s *MemoryOTPStore) Get(_ context.Context, email string) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[email]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryOTPStore) RecordFailure(_ context.Context, email, codeHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[email]
	if !ok || record.CodeHash != codeHash {
		return 0, nil
	}
	record.Attempts++
	s.records[email] = record
	return record.Attempts, nil
}

func (s *MemoryOTPStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
	return nil
}
