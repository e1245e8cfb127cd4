package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/rideshare/internal/clock"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// RideAPI is the part of API a Session drives. *API implements it.
type RideAPI interface {
	ListOpen(ctx context.Context) ([]*models.Ride, error)
	ActiveRide(ctx context.Context) (*models.Ride, error)
	Offer(ctx context.Context, req models.OfferRequest) (*models.Ride, error)
	Book(ctx context.Context, id string) (*models.Ride, error)
	SetStatus(ctx context.Context, id string, status models.RideStatus) (*models.Ride, error)
	Reject(ctx context.Context, id string) (*models.Ride, error)
	Withdraw(ctx context.Context, id string) (*models.Ride, error)
	Rate(ctx context.Context, userID string, score int) (models.UserRef, error)
}

// Session keeps one user's view in step with the server. The active ride
// poller reconciles the view; the board poller keeps the open list fresh.
// Writes never touch the view directly: they nudge the pollers and the
// next snapshot decides.
type Session struct {
	api      RideAPI
	viewerID string
	logger   *slog.Logger

	Active *Poller[*models.Ride]
	Board  *Poller[[]*models.Ride]

	// OnChange, when set, is called with every new view. It runs on the
	// poller goroutine and must not block.
	OnChange func(ViewState)
	// OnBoard, when set, receives each open-rides listing.
	OnBoard func(BoardState)

	mu    sync.Mutex
	state ViewState
	board BoardState
}

// BoardState is the open-rides list as the viewer sees it.
type BoardState struct {
	Rides      []*models.Ride
	LockReason string
}

func NewSession(api RideAPI, viewerID string, interval time.Duration, c clock.Clock, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		api:      api,
		viewerID: viewerID,
		logger:   logger,
		state:    ViewState{Role: ride.RoleNone, Screen: ScreenLoading},
	}
	s.Active = &Poller[*models.Ride]{
		Name:     "active-ride",
		Interval: interval,
		Clock:    c,
		Fetch:    api.ActiveRide,
		Apply:    s.applySnapshot,
		Logger:   logger,
	}
	s.Board = &Poller[[]*models.Ride]{
		Name:     "open-rides",
		Interval: interval,
		Clock:    c,
		Fetch:    api.ListOpen,
		Apply:    s.applyBoard,
		Logger:   logger,
	}
	return s
}

func (s *Session) Start(ctx context.Context) {
	s.Active.Start(ctx)
	s.Board.Start(ctx)
}

func (s *Session) Stop() {
	s.Active.Stop()
	s.Board.Stop()
}

// State returns the current view.
func (s *Session) State() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) BoardState() BoardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

func (s *Session) applySnapshot(r *models.Ride) {
	s.mu.Lock()
	prev := s.state
	next := Reconcile(r, s.viewerID, prev)
	s.state = next
	s.board.LockReason = next.LockReason
	s.mu.Unlock()
	if prev.Screen != next.Screen {
		s.logger.Debug("view changed", "from", prev.Screen, "to", next.Screen)
	}
	if s.OnChange != nil {
		s.OnChange(next)
	}
}

func (s *Session) applyBoard(rides []*models.Ride) {
	s.mu.Lock()
	s.board = BoardState{Rides: rides, LockReason: s.state.LockReason}
	b := s.board
	s.mu.Unlock()
	if s.OnBoard != nil {
		s.OnBoard(b)
	}
}

func (s *Session) refresh() {
	s.Active.Refresh()
	s.Board.Refresh()
}

// require returns the ride on the current screen if it offers action a.
func (s *Session) require(a Action) (ViewState, error) {
	st := s.State()
	if !Allows(st.Screen, a) {
		return st, fmt.Errorf("%w: %s is not available on %s", ride.ErrInvalidRequest, a, st.Screen)
	}
	return st, nil
}

func (s *Session) Offer(ctx context.Context, req models.OfferRequest) (*models.Ride, error) {
	if _, err := s.require(ActionOffer); err != nil {
		return nil, err
	}
	r, err := s.api.Offer(ctx, req)
	if err != nil {
		return nil, err
	}
	s.refresh()
	return r, nil
}

// Book asks for a seat. Losing the race returns ride.ErrAlreadyBooked and
// refreshes the board so the taken ride disappears.
func (s *Session) Book(ctx context.Context, rideID string) (*models.Ride, error) {
	if _, err := s.require(ActionBook); err != nil {
		return nil, err
	}
	r, err := s.api.Book(ctx, rideID)
	s.refresh()
	return r, err
}

func (s *Session) Accept(ctx context.Context) (*models.Ride, error) {
	return s.onRide(ctx, ActionAccept, func(id string) (*models.Ride, error) {
		return s.api.SetStatus(ctx, id, models.StatusOngoing)
	})
}

func (s *Session) Reject(ctx context.Context) (*models.Ride, error) {
	return s.onRide(ctx, ActionReject, func(id string) (*models.Ride, error) {
		return s.api.Reject(ctx, id)
	})
}

func (s *Session) Complete(ctx context.Context) (*models.Ride, error) {
	return s.onRide(ctx, ActionComplete, func(id string) (*models.Ride, error) {
		return s.api.SetStatus(ctx, id, models.StatusCompleted)
	})
}

func (s *Session) Withdraw(ctx context.Context) (*models.Ride, error) {
	return s.onRide(ctx, ActionWithdraw, func(id string) (*models.Ride, error) {
		return s.api.Withdraw(ctx, id)
	})
}

func (s *Session) onRide(ctx context.Context, a Action, call func(id string) (*models.Ride, error)) (*models.Ride, error) {
	st, err := s.require(a)
	if err != nil {
		return nil, err
	}
	if st.Ride == nil {
		return nil, fmt.Errorf("%w: no ride on screen", ride.ErrInvalidRequest)
	}
	r, err := call(st.Ride.ID)
	if err != nil {
		return nil, err
	}
	s.refresh()
	return r, nil
}

// Rate scores the driver of the finished ride and returns home.
func (s *Session) Rate(ctx context.Context, score int) error {
	st, err := s.require(ActionRate)
	if err != nil {
		return err
	}
	if _, err := s.api.Rate(ctx, st.RateUserID, score); err != nil {
		return err
	}
	s.goHome()
	return nil
}

// Dismiss leaves the rating screen without rating.
func (s *Session) Dismiss() error {
	if _, err := s.require(ActionDismiss); err != nil {
		return err
	}
	s.goHome()
	return nil
}

func (s *Session) goHome() {
	s.mu.Lock()
	s.state = ViewState{Role: ride.RoleNone, Screen: ScreenBrowse}
	next := s.state
	s.mu.Unlock()
	if s.OnChange != nil {
		s.OnChange(next)
	}
	s.refresh()
}
