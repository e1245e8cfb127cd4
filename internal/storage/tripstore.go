package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// ErrConflict is returned when a conditional update finds the record no
// longer in the expected state. Nothing was written.
var ErrConflict = errors.New("ride changed concurrently")

// RideStore defines persistence operations for rides. Every mutation is a
// conditional update applied atomically by the store; callers never
// read-modify-write a record.
type RideStore interface {
	// CreateRide inserts an open ride, failing with ride.ErrActiveRideExists
	// when the driver already takes part in an active ride.
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// ListOpen returns open rides by startTime, then creation order.
	ListOpen(ctx context.Context) ([]*models.Ride, error)
	// ActiveRideFor returns the non-completed ride where userID is driver or
	// passenger, or nil when there is none.
	ActiveRideFor(ctx context.Context, userID string) (*models.Ride, error)
	// BookRide applies open->booked iff the ride is still open and the
	// passenger has no active ride.
	BookRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error)
	// UpdateStatus applies from->to iff the ride is in from and owned by driverID.
	UpdateStatus(ctx context.Context, id, driverID string, from, to models.RideStatus, at time.Time) (*models.Ride, error)
	// ReleaseRide applies booked->open and clears the passenger iff the ride
	// is booked by passengerID.
	ReleaseRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error)
	// PurgeCompleted deletes completed rides last updated before the cutoff.
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeForLocked(r.DriverID()) != nil {
		return ride.ErrActiveRideExists
	}
	m.seq++
	r.Seq = m.seq
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListOpen(ctx context.Context) ([]*models.Ride, error) {
	m.mu.RLock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if r.Status == models.StatusOpen {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	SortOpen(out)
	return out, nil
}

// SortOpen orders rides soonest first, ties by creation order.
func SortOpen(rides []*models.Ride) {
	sort.SliceStable(rides, func(i, j int) bool {
		if !rides[i].StartTime.Equal(rides[j].StartTime) {
			return rides[i].StartTime.Before(rides[j].StartTime)
		}
		return rides[i].Seq < rides[j].Seq
	})
}

func (m *MemoryStore) ActiveRideFor(ctx context.Context, userID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeForLocked(userID).Clone(), nil
}

func (m *MemoryStore) activeForLocked(userID string) *models.Ride {
	if userID == "" {
		return nil
	}
	var found *models.Ride
	for _, r := range m.rides {
		if !r.Status.Active() {
			continue
		}
		if r.DriverID() != userID && r.PassengerID() != userID {
			continue
		}
		// Invariants allow one; pick deterministically if they were violated.
		if found == nil || r.Seq > found.Seq {
			found = r
		}
	}
	return found
}

func (m *MemoryStore) BookRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	if r.Status != models.StatusOpen || r.PassengerID() != "" {
		return nil, ride.ErrAlreadyBooked
	}
	if m.activeForLocked(passengerID) != nil {
		return nil, ride.ErrActiveRideExists
	}
	p := models.RefTo(passengerID)
	r.Passenger = &p
	r.Status = models.StatusBooked
	r.UpdatedAt = at
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id, driverID string, from, to models.RideStatus, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	if r.Status != from || r.DriverID() != driverID {
		return nil, ErrConflict
	}
	r.Status = to
	r.UpdatedAt = at
	return r.Clone(), nil
}

func (m *MemoryStore) ReleaseRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	if r.Status != models.StatusBooked || r.PassengerID() != passengerID {
		return nil, ErrConflict
	}
	r.Passenger = nil
	r.Status = models.StatusOpen
	r.UpdatedAt = at
	return r.Clone(), nil
}

func (m *MemoryStore) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rides {
		if r.Status == models.StatusCompleted && r.UpdatedAt.Before(before) {
			delete(m.rides, id)
			n++
		}
	}
	return n, nil
}
