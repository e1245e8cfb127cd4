package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rideshare/internal/cache"
	"github.com/example/rideshare/internal/clock"
	"github.com/example/rideshare/internal/events"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
	"github.com/example/rideshare/internal/storage"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu    sync.Mutex
	fail  bool
	types []string
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.RideEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.types = append(p.types, ev.Type)
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	clock  *clock.Fake
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	fc := clock.NewFake(t0)
	pub := &recordingPublisher{}
	n := 0
	svc := &Service{
		Store:  store,
		Users:  storage.NewMemoryUsers(),
		Events: pub,
		Clock:  fc,
		NewID: func() string {
			n++
			return fmt.Sprintf("ride-%d", n)
		},
	}
	return &fixture{svc: svc, store: store, clock: fc, events: pub}
}

func withRedisCache(t *testing.T, f *fixture) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.Cache = cache.NewActiveRides(client, time.Minute)
	f.svc.Timelines = cache.NewTimeline(client)
	return mr
}

var (
	driver    = models.UserRef{ID: "d1", Name: "Dana", Email: "dana@example.com"}
	passenger = models.UserRef{ID: "p1", Name: "Pat"}
	other     = models.UserRef{ID: "q1", Name: "Quinn"}
)

func offer(t *testing.T, f *fixture, who models.UserRef) *models.Ride {
	t.Helper()
	r, err := f.svc.Offer(context.Background(), who, models.OfferRequest{From: "Gate 1", To: "Gate 9", StartTime: t0.Add(time.Hour)})
	require.NoError(t, err)
	return r
}

func TestScenarioA_OfferListAndBookingRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)

	open, err := f.svc.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, r.ID, open[0].ID)
	assert.Equal(t, models.StatusOpen, open[0].Status)
	require.NotNil(t, open[0].Driver.User)
	assert.Equal(t, "Dana", open[0].Driver.User.Name)

	booked, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, booked.Status)
	assert.Equal(t, "p1", booked.PassengerID())

	_, err = f.svc.Book(ctx, other, r.ID)
	assert.ErrorIs(t, err, ride.ErrAlreadyBooked)

	got, err := f.svc.Ride(ctx, driver.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PassengerID())
}

func TestScenarioB_AcceptVisibleToPassenger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusOngoing)
	require.NoError(t, err)

	active, err := f.svc.ActiveRide(ctx, passenger.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.StatusOngoing, active.Status)
	assert.Equal(t, ride.RolePassenger, ride.RoleOf(active, passenger.ID))
}

func TestScenarioC_CompleteClearsActiveRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusOngoing)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusCompleted)
	require.NoError(t, err)

	for _, u := range []string{driver.ID, passenger.ID} {
		active, err := f.svc.ActiveRide(ctx, u)
		require.NoError(t, err)
		assert.Nil(t, active, u)
	}
	assert.Equal(t, []string{events.TypeOffered, events.TypeBooked, events.TypeAccepted, events.TypeCompleted}, f.events.seen())
}

func TestScenarioD_SecondOfferRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer(t, f, driver)

	_, err := f.svc.Offer(ctx, driver, models.OfferRequest{From: "X", To: "Y", StartTime: t0})
	assert.ErrorIs(t, err, ride.ErrActiveRideExists)

	open, err := f.svc.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestOffer_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []models.OfferRequest{
		{From: " ", To: "B", StartTime: t0},
		{From: "A", To: "", StartTime: t0},
		{From: "A", To: "B"},
	}
	for _, req := range cases {
		_, err := f.svc.Offer(ctx, driver, req)
		assert.ErrorIs(t, err, ride.ErrInvalidRequest)
	}
}

func TestBook_PassengerWithActiveRideRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := offer(t, f, driver)
	r2 := offer(t, f, other)

	_, err := f.svc.Book(ctx, passenger, r1.ID)
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, passenger, r2.ID)
	assert.ErrorIs(t, err, ride.ErrActiveRideExists)

	// A driver with an open ride cannot book someone else's either.
	_, err = f.svc.Book(ctx, other, r1.ID)
	assert.Error(t, err)
}

func TestBook_DriverCannotBookOwnRide(t *testing.T) {
	f := newFixture(t)
	r := offer(t, f, driver)
	_, err := f.svc.Book(context.Background(), driver, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)
}

func TestBook_ConcurrentPassengersOneWinner(t *testing.T) {
	f := newFixture(t)
	r := offer(t, f, driver)

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(context.Background(), models.UserRef{ID: fmt.Sprintf("p%d", i)}, r.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ride.ErrAlreadyBooked)
	}
	assert.Equal(t, 1, wins)
}

func TestSetStatus_ForbiddenBeforeInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, passenger, r.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, ride.ErrForbidden)
	_, err = f.svc.SetStatus(ctx, other, r.ID, models.StatusOngoing)
	assert.ErrorIs(t, err, ride.ErrForbidden)

	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusOpen)
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	_, err = f.svc.SetStatus(ctx, driver, "missing", models.StatusOngoing)
	assert.ErrorIs(t, err, ride.ErrNotFound)

	got, err := f.svc.Ride(ctx, driver.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, got.Status)
}

// conflictStore makes the next conditional update lose to a concurrent writer.
type conflictStore struct {
	storage.RideStore
	race func()
}

func (c *conflictStore) UpdateStatus(ctx context.Context, id, driverID string, from, to models.RideStatus, at time.Time) (*models.Ride, error) {
	if c.race != nil {
		race := c.race
		c.race = nil
		race()
	}
	return c.RideStore.UpdateStatus(ctx, id, driverID, from, to, at)
}

func TestSetStatus_LostRaceIsReclassified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)

	cs := &conflictStore{RideStore: f.store}
	cs.race = func() {
		_, err := f.store.UpdateStatus(ctx, r.ID, driver.ID, models.StatusBooked, models.StatusOngoing, t0)
		require.NoError(t, err)
	}
	f.svc.Store = cs

	_, err = f.svc.SetStatus(ctx, driver, r.ID, models.StatusOngoing)
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
}

func TestRejectAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)

	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, driver, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)
	_, err = f.svc.Reject(ctx, passenger, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)

	released, err := f.svc.Reject(ctx, driver, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, released.Status)
	assert.Nil(t, released.Passenger)

	active, err := f.svc.ActiveRide(ctx, passenger.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	// Rejected passengers may book again.
	_, err = f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	released, err = f.svc.Withdraw(ctx, passenger, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, released.Status)

	_, err = f.svc.Reject(ctx, driver, r.ID)
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
	assert.Contains(t, f.events.seen(), events.TypeReleased)
}

func TestRoleIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)

	_, err := f.svc.Ride(ctx, other.ID, r.ID)
	require.NoError(t, err, "bystanders may read open rides")

	_, err = f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Ride(ctx, other.ID, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)
	_, err = f.svc.Timeline(ctx, other.ID, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)

	active, err := f.svc.ActiveRide(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	tl, err := f.svc.Timeline(ctx, passenger.ID, r.ID)
	require.NoError(t, err)
	assert.Empty(t, tl)
}

func TestTimeline_ReadsConsumerEntries(t *testing.T) {
	f := newFixture(t)
	mr := withRedisCache(t, f)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)

	booked := t0.Add(time.Minute)
	for k, v := range cache.TimelineFields(string(models.StatusBooked), booked) {
		mr.HSet(cache.TimelineKey(r.ID), k, v.(string))
	}

	tl, err := f.svc.Timeline(ctx, driver.ID, r.ID)
	require.NoError(t, err)
	require.Contains(t, tl, "booked")
	assert.True(t, booked.Equal(tl["booked"]))

	_, err = f.svc.Timeline(ctx, other.ID, r.ID)
	assert.ErrorIs(t, err, ride.ErrForbidden)
}

func TestActiveRide_IdempotentWithCache(t *testing.T) {
	f := newFixture(t)
	withRedisCache(t, f)
	ctx := context.Background()
	r := offer(t, f, driver)
	_, err := f.svc.Rate(ctx, other, models.RateRequest{UserID: driver.ID, Rating: 4})
	require.NoError(t, err)

	first, err := f.svc.ActiveRide(ctx, driver.ID)
	require.NoError(t, err)
	second, err := f.svc.ActiveRide(ctx, driver.ID)
	require.NoError(t, err)
	assert.JSONEq(t, marshal(t, first), marshal(t, second))
	assert.Equal(t, r.ID, second.ID)

	_, err = f.svc.Book(ctx, passenger, r.ID)
	require.NoError(t, err)
	for _, id := range []string{driver.ID, passenger.ID} {
		miss, err := f.svc.ActiveRide(ctx, id)
		require.NoError(t, err)
		hit, err := f.svc.ActiveRide(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, marshal(t, miss), marshal(t, hit), id)
		assert.Equal(t, models.StatusBooked, hit.Status)
		assert.Equal(t, "p1", hit.PassengerID())
		require.NotNil(t, hit.Driver.User)
		require.NotNil(t, hit.Driver.User.Rating)
	}
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// slowReadStore runs hook after the store read, before the caller caches it.
type slowReadStore struct {
	storage.RideStore
	hook func()
}

func (s *slowReadStore) ActiveRideFor(ctx context.Context, userID string) (*models.Ride, error) {
	r, err := s.RideStore.ActiveRideFor(ctx, userID)
	if s.hook != nil {
		hook := s.hook
		s.hook = nil
		hook()
	}
	return r, err
}

func TestActiveRide_SlowReaderCannotOverwriteInvalidation(t *testing.T) {
	f := newFixture(t)
	withRedisCache(t, f)
	ctx := context.Background()
	r := offer(t, f, driver)

	slow := &slowReadStore{RideStore: f.store}
	f.svc.Store = slow
	slow.hook = func() {
		_, err := f.svc.Book(ctx, passenger, r.ID)
		require.NoError(t, err)
	}

	stale, err := f.svc.ActiveRide(ctx, passenger.ID)
	require.NoError(t, err)
	assert.Nil(t, stale)

	fresh, err := f.svc.ActiveRide(ctx, passenger.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, models.StatusBooked, fresh.Status)
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := offer(t, f, driver)

	_, err := f.svc.Rate(ctx, passenger, models.RateRequest{UserID: driver.ID, Rating: 6})
	assert.ErrorIs(t, err, ride.ErrInvalidRequest)
	_, err = f.svc.Rate(ctx, passenger, models.RateRequest{Rating: 4})
	assert.ErrorIs(t, err, ride.ErrInvalidRequest)
	_, err = f.svc.Rate(ctx, driver, models.RateRequest{UserID: driver.ID, Rating: 5})
	assert.ErrorIs(t, err, ride.ErrForbidden)
	_, err = f.svc.Rate(ctx, passenger, models.RateRequest{UserID: "ghost", Rating: 5})
	assert.ErrorIs(t, err, ride.ErrNotFound)

	_, err = f.svc.Rate(ctx, passenger, models.RateRequest{UserID: driver.ID, Rating: 5})
	require.NoError(t, err)
	u, err := f.svc.Rate(ctx, other, models.RateRequest{UserID: driver.ID, Rating: 4})
	require.NoError(t, err)
	require.NotNil(t, u.Rating)
	assert.InDelta(t, 4.5, *u.Rating, 1e-9)

	got, err := f.svc.Ride(ctx, passenger.ID, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Driver.User)
	require.NotNil(t, got.Driver.User.Rating)
	assert.InDelta(t, 4.5, *got.Driver.User.Rating, 1e-9)
}

func TestRate_DoesNotRequireSharedRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	offer(t, f, driver)

	// other never rode with driver and rates twice; both scores count.
	_, err := f.svc.Rate(ctx, other, models.RateRequest{UserID: driver.ID, Rating: 2})
	require.NoError(t, err)
	u, err := f.svc.Rate(ctx, other, models.RateRequest{UserID: driver.ID, Rating: 4})
	require.NoError(t, err)
	require.NotNil(t, u.Rating)
	assert.InDelta(t, 3.0, *u.Rating, 1e-9)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Me(context.Background(), driver)
	require.NoError(t, err)
	assert.Equal(t, driver.ID, u.ID)
	assert.Equal(t, driver.Email, u.Email)
	assert.Nil(t, u.Rating)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.events.fail = true
	r := offer(t, f, driver)
	assert.Equal(t, models.StatusOpen, r.Status)
}

func completeRide(t *testing.T, f *fixture, d, p models.UserRef) *models.Ride {
	t.Helper()
	ctx := context.Background()
	r := offer(t, f, d)
	_, err := f.svc.Book(ctx, p, r.ID)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, d, r.ID, models.StatusOngoing)
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, d, r.ID, models.StatusCompleted)
	require.NoError(t, err)
	return r
}

func TestPurgeCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := completeRide(t, f, driver, passenger)

	n, err := f.svc.PurgeCompleted(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero retention keeps rides")

	f.clock.Advance(time.Hour)
	n, err = f.svc.PurgeCompleted(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.PurgeCompleted(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Ride(ctx, driver.ID, r.ID)
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestRunRetention(t *testing.T) {
	f := newFixture(t)
	r := completeRide(t, f, driver, passenger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunRetention(ctx, time.Minute, time.Minute)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.clock.Tickers() == 1 }, time.Second, time.Millisecond)

	f.clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		_, err := f.store.GetRide(context.Background(), r.ID)
		return errors.Is(err, ride.ErrNotFound)
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
