package ride

import (
	"fmt"

	"github.com/example/rideshare/internal/models"
)

// Transition is one edge of the ride lifecycle and the role allowed to take it.
type Transition struct {
	From  models.RideStatus
	To    models.RideStatus
	Actor Role
}

// Transitions is the complete edge table. The empty From is creation.
// booked->open is the release edge used by reject and withdraw; it is the
// only edge that does not move forward.
var Transitions = []Transition{
	{From: "", To: models.StatusOpen, Actor: RoleDriver},
	{From: models.StatusOpen, To: models.StatusBooked, Actor: RolePassenger},
	{From: models.StatusBooked, To: models.StatusOngoing, Actor: RoleDriver},
	{From: models.StatusOngoing, To: models.StatusCompleted, Actor: RoleDriver},
	{From: models.StatusBooked, To: models.StatusOpen, Actor: RoleDriver},
	{From: models.StatusBooked, To: models.StatusOpen, Actor: RolePassenger},
}

var order = map[models.RideStatus]int{
	models.StatusOpen:      0,
	models.StatusBooked:    1,
	models.StatusOngoing:   2,
	models.StatusCompleted: 3,
}

// Next returns the forward successor of s, if any.
func Next(s models.RideStatus) (models.RideStatus, bool) {
	switch s {
	case models.StatusOpen:
		return models.StatusBooked, true
	case models.StatusBooked:
		return models.StatusOngoing, true
	case models.StatusOngoing:
		return models.StatusCompleted, true
	}
	return "", false
}

// Allowed reports whether actor may move a ride from one status to another.
func Allowed(from, to models.RideStatus, actor Role) bool {
	for _, t := range Transitions {
		if t.From == from && t.To == to && t.Actor == actor {
			return true
		}
	}
	return false
}

// IsForward reports whether to lies strictly after from in the lifecycle.
func IsForward(from, to models.RideStatus) bool {
	a, ok1 := order[from]
	b, ok2 := order[to]
	return ok1 && ok2 && b > a
}

// CheckAdvance validates a driver-issued status change (PUT /rides/status).
// Ownership is checked before the edge so a bystander always sees Forbidden.
func CheckAdvance(r *models.Ride, requesterID string, target models.RideStatus) error {
	if r == nil {
		return ErrNotFound
	}
	if RoleOf(r, requesterID) != RoleDriver {
		return ErrForbidden
	}
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	next, ok := Next(r.Status)
	if !ok || next != target || !Allowed(r.Status, target, RoleDriver) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, target)
	}
	return nil
}

// CheckBook validates open->booked for passengerID against a snapshot. The
// store repeats the status guard atomically; this only produces the error a
// caller should see.
func CheckBook(r *models.Ride, passengerID string) error {
	if r == nil {
		return ErrNotFound
	}
	if passengerID == "" {
		return ErrForbidden
	}
	if models.SameUser(passengerID, r.Driver) {
		return fmt.Errorf("%w: drivers cannot book their own ride", ErrForbidden)
	}
	if r.Status != models.StatusOpen || r.PassengerID() != "" {
		return ErrAlreadyBooked
	}
	return nil
}

// CheckRelease validates booked->open by the driver (reject) or the booked
// passenger (withdraw).
func CheckRelease(r *models.Ride, requesterID string, actor Role) error {
	if r == nil {
		return ErrNotFound
	}
	if RoleOf(r, requesterID) != actor || (actor != RoleDriver && actor != RolePassenger) {
		return ErrForbidden
	}
	if !Allowed(r.Status, models.StatusOpen, actor) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, models.StatusOpen)
	}
	return nil
}
