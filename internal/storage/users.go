package storage

import (
	"context"
	"sync"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// UserDirectory is the slice of the user collaborator the core reads:
// profiles to embed in rides and the aggregate rating annotation.
type UserDirectory interface {
	// EnsureUser records a profile seen on an authenticated request. Empty
	// name or email never overwrite known values.
	EnsureUser(ctx context.Context, u models.UserRef) error
	Users(ctx context.Context, ids ...string) (map[string]models.UserRef, error)
	// AddRating folds one 1..5 score into the user's aggregate.
	AddRating(ctx context.Context, id string, score int) (models.UserRef, error)
}

type userRecord struct {
	ref   models.UserRef
	sum   int64
	count int64
}

func (u userRecord) view() models.UserRef {
	out := u.ref
	out.Rating = averageRating(u.sum, u.count)
	return out
}

func averageRating(sum, count int64) *float64 {
	if count == 0 {
		return nil
	}
	v := float64(sum) / float64(count)
	return &v
}

type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]*userRecord
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]*userRecord)}
}

func (m *MemoryUsers) EnsureUser(ctx context.Context, u models.UserRef) error {
	if u.ID == "" {
		return ride.ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[u.ID]
	if !ok {
		m.users[u.ID] = &userRecord{ref: models.UserRef{ID: u.ID, Name: u.Name, Email: u.Email}}
		return nil
	}
	if u.Name != "" {
		rec.ref.Name = u.Name
	}
	if u.Email != "" {
		rec.ref.Email = u.Email
	}
	return nil
}

func (m *MemoryUsers) Users(ctx context.Context, ids ...string) (map[string]models.UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.UserRef, len(ids))
	for _, id := range ids {
		if rec, ok := m.users[id]; ok {
			out[id] = rec.view()
		}
	}
	return out, nil
}

func (m *MemoryUsers) AddRating(ctx context.Context, id string, score int) (models.UserRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[id]
	if !ok {
		return models.UserRef{}, ride.ErrNotFound
	}
	rec.sum += int64(score)
	rec.count++
	return rec.view(), nil
}
