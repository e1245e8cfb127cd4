package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rideshare/internal/auth"
	"github.com/example/rideshare/internal/clock"
	httpapi "github.com/example/rideshare/internal/http"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
	"github.com/example/rideshare/internal/storage"
)

const sessionSecret = "session-secret"

type world struct {
	url    string
	clock  *clock.Fake
	logger *slog.Logger
}

func newWorld(t *testing.T) *world {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := &matcher.Service{Store: storage.NewMemoryStore(), Users: storage.NewMemoryUsers(), Logger: logger}
	srv := httptest.NewServer(httpapi.NewServer(svc, auth.NewVerifier(sessionSecret), logger))
	t.Cleanup(srv.Close)
	return &world{url: srv.URL, clock: clock.NewFake(t0), logger: logger}
}

func (w *world) session(t *testing.T, id string) (*Session, *API) {
	t.Helper()
	tok, err := auth.Issue(sessionSecret, models.UserRef{ID: id}, time.Hour)
	require.NoError(t, err)
	api := NewAPI(w.url, tok, 2*time.Second)
	s := NewSession(api, id, interval, w.clock, w.logger)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, api
}

func waitScreen(t *testing.T, s *Session, want Screen) ViewState {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Screen == want }, 2*time.Second, 2*time.Millisecond,
		"want %s, have %s", want, s.State().Screen)
	return s.State()
}

func TestSession_FullRide(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	driver, _ := w.session(t, "d1")
	passenger, passengerAPI := w.session(t, "p1")

	waitScreen(t, driver, ScreenBrowse)
	waitScreen(t, passenger, ScreenBrowse)

	offered, err := driver.Offer(ctx, models.OfferRequest{From: "Gate 1", To: "Gate 9", StartTime: t0.Add(time.Hour)})
	require.NoError(t, err)
	st := waitScreen(t, driver, ScreenWaitingForBookings)
	assert.Equal(t, LockOfferingRide, st.LockReason)

	// The passenger's board learns about the ride within one interval.
	w.clock.Advance(interval)
	require.Eventually(t, func() bool { return len(passenger.BoardState().Rides) == 1 }, 2*time.Second, 2*time.Millisecond)

	_, err = passenger.Book(ctx, offered.ID)
	require.NoError(t, err)
	waitScreen(t, passenger, ScreenRequestSent)
	require.Eventually(t, func() bool { return passenger.BoardState().LockReason == LockAwaitingApproval }, 2*time.Second, 2*time.Millisecond)

	w.clock.Advance(interval)
	waitScreen(t, driver, ScreenBookingRequest)
	_, err = driver.Accept(ctx)
	require.NoError(t, err)
	waitScreen(t, driver, ScreenDriving)

	w.clock.Advance(interval)
	waitScreen(t, passenger, ScreenRideInProgress)

	_, err = driver.Complete(ctx)
	require.NoError(t, err)
	waitScreen(t, driver, ScreenBrowse)

	w.clock.Advance(interval)
	rate := waitScreen(t, passenger, ScreenRateDriver)
	assert.Equal(t, "d1", rate.RateUserID)
	assert.Equal(t, offered.ID, rate.RideID)

	// Further empty polls keep the rating screen up.
	w.clock.Advance(interval)
	w.clock.Advance(interval)
	assert.Never(t, func() bool { return passenger.State().Screen != ScreenRateDriver }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, passenger.Rate(ctx, 5))
	waitScreen(t, passenger, ScreenBrowse)
	w.clock.Advance(interval)
	assert.Never(t, func() bool { return passenger.State().Screen != ScreenBrowse }, 50*time.Millisecond, 5*time.Millisecond)

	active, err := passengerAPI.ActiveRide(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSession_RejectSendsPassengerHome(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	driver, _ := w.session(t, "d1")
	passenger, _ := w.session(t, "p1")
	waitScreen(t, driver, ScreenBrowse)
	waitScreen(t, passenger, ScreenBrowse)

	offered, err := driver.Offer(ctx, models.OfferRequest{From: "A", To: "B", StartTime: t0})
	require.NoError(t, err)
	_, err = passenger.Book(ctx, offered.ID)
	require.NoError(t, err)
	waitScreen(t, passenger, ScreenRequestSent)

	w.clock.Advance(interval)
	waitScreen(t, driver, ScreenBookingRequest)
	_, err = driver.Reject(ctx)
	require.NoError(t, err)
	waitScreen(t, driver, ScreenWaitingForBookings)

	w.clock.Advance(interval)
	st := waitScreen(t, passenger, ScreenBrowse)
	assert.Empty(t, st.LockReason)
}

func TestSession_ActionsFollowScreen(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	driver, _ := w.session(t, "d1")
	waitScreen(t, driver, ScreenBrowse)

	_, err := driver.Accept(ctx)
	assert.ErrorIs(t, err, ride.ErrInvalidRequest)
	assert.ErrorIs(t, driver.Rate(ctx, 5), ride.ErrInvalidRequest)
	assert.ErrorIs(t, driver.Dismiss(), ride.ErrInvalidRequest)

	_, err = driver.Book(ctx, "missing")
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestSession_LostBookingRace(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	driver, _ := w.session(t, "d1")
	p, _ := w.session(t, "p1")
	q, _ := w.session(t, "q1")
	for _, s := range []*Session{driver, p, q} {
		waitScreen(t, s, ScreenBrowse)
	}

	offered, err := driver.Offer(ctx, models.OfferRequest{From: "A", To: "B", StartTime: t0})
	require.NoError(t, err)
	_, err = p.Book(ctx, offered.ID)
	require.NoError(t, err)

	_, err = q.Book(ctx, offered.ID)
	assert.ErrorIs(t, err, ride.ErrAlreadyBooked)
	assert.False(t, ride.Retryable(err))
	require.Eventually(t, func() bool { return len(q.BoardState().Rides) == 0 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, ScreenBrowse, q.State().Screen)
}
