package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/rideshare/internal/clock"
	"github.com/example/rideshare/internal/events"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/ride"
	"github.com/example/rideshare/internal/storage"
)

// SnapshotCache caches each user's active ride. See cache.ActiveRides.
type SnapshotCache interface {
	Generation(ctx context.Context, userID string) (int64, error)
	Get(ctx context.Context, userID string) (*models.Ride, bool, error)
	Put(ctx context.Context, userID string, gen int64, r *models.Ride) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

type Publisher interface {
	Publish(ctx context.Context, ev events.RideEvent) error
}

type TimelineReader interface {
	Get(ctx context.Context, rideID string) (map[string]time.Time, error)
}

// Service applies ride intents against the store. Cache, Events and
// Timelines are optional.
type Service struct {
	Store     storage.RideStore
	Users     storage.UserDirectory
	Cache     SnapshotCache
	Events    Publisher
	Timelines TimelineReader
	Clock     clock.Clock
	Logger    *slog.Logger
	NewID     func() string
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Offer creates an open ride driven by caller.
func (s *Service) Offer(ctx context.Context, caller models.UserRef, req models.OfferRequest) (*models.Ride, error) {
	from, to := strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", ride.ErrInvalidRequest)
	}
	if req.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: startTime is required", ride.ErrInvalidRequest)
	}
	if err := s.Users.EnsureUser(ctx, caller); err != nil {
		return nil, err
	}
	now := s.now()
	r := &models.Ride{
		ID:        s.newID(),
		Driver:    models.RefTo(caller.ID),
		From:      from,
		To:        to,
		StartTime: req.StartTime.UTC(),
		Status:    models.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesOffered.Inc()
	observability.TransitionsTotal.WithLabelValues("none", string(models.StatusOpen)).Inc()
	s.invalidate(ctx, caller.ID)
	s.publish(ctx, events.TypeOffered, r, now)
	s.log().Info("ride offered", "ride_id", r.ID, "driver_id", caller.ID)
	return s.hydrate(ctx, r), nil
}

// Book attaches caller as the passenger of an open ride. Of two concurrent
// bookings exactly one wins; the other gets ride.ErrAlreadyBooked.
func (s *Service) Book(ctx context.Context, caller models.UserRef, rideID string) (*models.Ride, error) {
	r, err := s.book(ctx, caller, rideID)
	if err != nil {
		kind, _ := ride.Kind(err)
		observability.BookingsTotal.WithLabelValues(kind).Inc()
		return nil, err
	}
	observability.BookingsTotal.WithLabelValues("booked").Inc()
	return r, nil
}

func (s *Service) book(ctx context.Context, caller models.UserRef, rideID string) (*models.Ride, error) {
	if err := s.Users.EnsureUser(ctx, caller); err != nil {
		return nil, err
	}
	current, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ride.CheckBook(current, caller.ID); err != nil {
		return nil, err
	}
	now := s.now()
	updated, err := s.Store.BookRide(ctx, rideID, caller.ID, now)
	if err != nil {
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(models.StatusOpen), string(models.StatusBooked)).Inc()
	s.invalidate(ctx, updated.DriverID(), caller.ID)
	s.publish(ctx, events.TypeBooked, updated, now)
	s.log().Info("ride booked", "ride_id", rideID, "passenger_id", caller.ID)
	return s.hydrate(ctx, updated), nil
}

// SetStatus advances a ride one step on behalf of its driver.
func (s *Service) SetStatus(ctx context.Context, caller models.UserRef, rideID string, target models.RideStatus) (*models.Ride, error) {
	current, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ride.CheckAdvance(current, caller.ID, target); err != nil {
		return nil, err
	}
	now := s.now()
	updated, err := s.Store.UpdateStatus(ctx, rideID, caller.ID, current.Status, target, now)
	if errors.Is(err, storage.ErrConflict) {
		return nil, s.reclassify(ctx, rideID, func(r *models.Ride) error {
			return ride.CheckAdvance(r, caller.ID, target)
		})
	}
	if err != nil {
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(current.Status), string(target)).Inc()
	s.invalidate(ctx, updated.DriverID(), updated.PassengerID())
	s.publish(ctx, events.TypeFor(target), updated, now)
	s.log().Info("ride status changed", "ride_id", rideID, "from", current.Status, "to", target)
	return s.hydrate(ctx, updated), nil
}

// Reject releases a booked ride back to open on behalf of its driver.
func (s *Service) Reject(ctx context.Context, caller models.UserRef, rideID string) (*models.Ride, error) {
	return s.release(ctx, caller, rideID, ride.RoleDriver)
}

// Withdraw releases a booked ride back to open on behalf of its passenger.
func (s *Service) Withdraw(ctx context.Context, caller models.UserRef, rideID string) (*models.Ride, error) {
	return s.release(ctx, caller, rideID, ride.RolePassenger)
}

func (s *Service) release(ctx context.Context, caller models.UserRef, rideID string, actor ride.Role) (*models.Ride, error) {
	current, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ride.CheckRelease(current, caller.ID, actor); err != nil {
		return nil, err
	}
	passengerID := current.PassengerID()
	now := s.now()
	updated, err := s.Store.ReleaseRide(ctx, rideID, passengerID, now)
	if errors.Is(err, storage.ErrConflict) {
		return nil, s.reclassify(ctx, rideID, func(r *models.Ride) error {
			return ride.CheckRelease(r, caller.ID, actor)
		})
	}
	if err != nil {
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(models.StatusBooked), string(models.StatusOpen)).Inc()
	s.invalidate(ctx, updated.DriverID(), passengerID)
	s.publish(ctx, events.TypeReleased, updated, now)
	s.log().Info("ride released", "ride_id", rideID, "by", actor, "passenger_id", passengerID)
	return s.hydrate(ctx, updated), nil
}

// reclassify turns a lost conditional update into the error the caller
// would have seen had it read the ride a moment later.
func (s *Service) reclassify(ctx context.Context, rideID string, check func(*models.Ride) error) error {
	latest, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if err := check(latest); err != nil {
		return err
	}
	return fmt.Errorf("%w: ride changed concurrently", ride.ErrInvalidTransition)
}

// ListOpen returns every open ride, earliest start first.
func (s *Service) ListOpen(ctx context.Context) ([]*models.Ride, error) {
	rides, err := s.Store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	return s.hydrateAll(ctx, rides), nil
}

// ActiveRide returns the ride userID currently takes part in, or nil.
// Repeated calls without an intervening mutation return the same snapshot.
func (s *Service) ActiveRide(ctx context.Context, userID string) (*models.Ride, error) {
	if userID == "" {
		return nil, ride.ErrUnauthorized
	}
	if s.Cache == nil {
		r, err := s.Store.ActiveRideFor(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.hydrate(ctx, r), nil
	}

	if r, ok, err := s.Cache.Get(ctx, userID); err != nil {
		s.log().Warn("active ride cache read failed", "user_id", userID, "error", err)
	} else if ok {
		observability.ActiveRideLookups.WithLabelValues("hit").Inc()
		return r, nil
	}
	observability.ActiveRideLookups.WithLabelValues("miss").Inc()

	// The generation is sampled before the store read so a mutation that
	// lands in between makes our Put unreadable.
	gen, genErr := s.Cache.Generation(ctx, userID)
	r, err := s.Store.ActiveRideFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	r = s.hydrate(ctx, r)
	if genErr != nil {
		s.log().Warn("active ride cache generation failed", "user_id", userID, "error", genErr)
		return r, nil
	}
	if err := s.Cache.Put(ctx, userID, gen, r); err != nil {
		s.log().Warn("active ride cache write failed", "user_id", userID, "error", err)
	}
	return r, nil
}

// Ride returns one ride's detail. Bystanders only see open rides.
func (s *Service) Ride(ctx context.Context, callerID, rideID string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.CanView(r, callerID) {
		return nil, ride.ErrForbidden
	}
	return s.hydrate(ctx, r), nil
}

// Timeline returns when the ride reached each lifecycle step, as recorded
// by the event consumer. Participants only.
func (s *Service) Timeline(ctx context.Context, callerID, rideID string) (map[string]time.Time, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.IsParticipant(r, callerID) {
		return nil, ride.ErrForbidden
	}
	if s.Timelines == nil {
		return map[string]time.Time{}, nil
	}
	return s.Timelines.Get(ctx, rideID)
}

// Rate folds a 1..5 score into another user's aggregate rating. Any
// authenticated user may rate any other known user, any number of times;
// only self-rating is refused.
func (s *Service) Rate(ctx context.Context, caller models.UserRef, req models.RateRequest) (models.UserRef, error) {
	target := models.ResolveID(req.UserID)
	if target == "" {
		return models.UserRef{}, fmt.Errorf("%w: userId is required", ride.ErrInvalidRequest)
	}
	if req.Rating < 1 || req.Rating > 5 {
		return models.UserRef{}, fmt.Errorf("%w: rating must be between 1 and 5", ride.ErrInvalidRequest)
	}
	if models.SameUser(caller.ID, target) {
		return models.UserRef{}, fmt.Errorf("%w: users cannot rate themselves", ride.ErrForbidden)
	}
	if err := s.Users.EnsureUser(ctx, caller); err != nil {
		return models.UserRef{}, err
	}
	u, err := s.Users.AddRating(ctx, target, req.Rating)
	if err != nil {
		return models.UserRef{}, err
	}
	s.invalidate(ctx, caller.ID, target)
	s.log().Info("user rated", "user_id", target, "rater_id", caller.ID, "score", req.Rating)
	return u, nil
}

// Me records the caller's profile and returns it with its rating.
func (s *Service) Me(ctx context.Context, caller models.UserRef) (models.UserRef, error) {
	if err := s.Users.EnsureUser(ctx, caller); err != nil {
		return models.UserRef{}, err
	}
	users, err := s.Users.Users(ctx, caller.ID)
	if err != nil {
		return models.UserRef{}, err
	}
	if u, ok := users[caller.ID]; ok {
		return u, nil
	}
	return caller, nil
}

// PurgeCompleted deletes completed rides older than retention. A zero
// retention keeps them forever.
func (s *Service) PurgeCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.Store.PurgeCompleted(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	observability.RidesPurged.Add(float64(n))
	return n, nil
}

// RunRetention purges on every interval tick until ctx is done.
func (s *Service) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	c := s.Clock
	if c == nil {
		c = clock.Real()
	}
	t := c.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.PurgeCompleted(ctx, retention)
			if err != nil {
				s.log().Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log().Info("retention sweep", "purged", n)
			}
		}
	}
}

func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, userIDs...); err != nil {
		s.log().Error("active ride cache invalidation failed", "users", userIDs, "error", err)
	}
}

// publish is best-effort; the store is the source of truth.
func (s *Service) publish(ctx context.Context, typ string, r *models.Ride, at time.Time) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, events.NewRideEvent(typ, r, at)); err != nil {
		observability.EventFailures.Inc()
		s.log().Warn("ride event publish failed", "ride_id", r.ID, "type", typ, "error", err)
	}
}

func (s *Service) hydrate(ctx context.Context, r *models.Ride) *models.Ride {
	if r == nil {
		return nil
	}
	return s.hydrateAll(ctx, []*models.Ride{r})[0]
}

// hydrateAll embeds user profiles in place of bare ids. A directory failure
// leaves the bare ids, which clients resolve the same way.
func (s *Service) hydrateAll(ctx context.Context, rides []*models.Ride) []*models.Ride {
	if len(rides) == 0 || s.Users == nil {
		return rides
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range rides {
		for _, id := range []string{r.DriverID(), r.PassengerID()} {
			if _, ok := seen[id]; id != "" && !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	users, err := s.Users.Users(ctx, ids...)
	if err != nil {
		s.log().Warn("user lookup failed", "error", err)
		return rides
	}
	for _, r := range rides {
		if u, ok := users[r.DriverID()]; ok {
			r.Driver = models.Ref{ID: u.ID, User: &u}
		}
		if pid := r.PassengerID(); pid != "" {
			if u, ok := users[pid]; ok {
				r.Passenger = &models.Ref{ID: u.ID, User: &u}
			}
		}
	}
	return rides
}
