package client

import (
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// ViewState is what a client shows. It is recomputed from each snapshot
// and never patched.
type ViewState struct {
	Role   ride.Role
	Screen Screen
	Ride   *models.Ride
	// LockReason is set while the viewer may not book another ride.
	LockReason string
	// RateUserID and RideID name the finished ride on ScreenRateDriver.
	RateUserID string
	RideID     string
}

const (
	LockAwaitingApproval = "waiting for driver approval"
	LockRideInProgress   = "ride in progress"
	LockOfferingRide     = "you are offering a ride"
)

// Reconcile derives the next view from the latest active-ride snapshot,
// the viewer and the screen currently mounted. The mounted state is only
// consulted when the snapshot is empty, to tell a finished ride apart from
// no ride at all.
func Reconcile(snapshot *models.Ride, viewerID string, mounted ViewState) ViewState {
	if snapshot == nil {
		switch mounted.Screen {
		case ScreenRideInProgress:
			next := ViewState{Role: ride.RoleNone, Screen: ScreenRateDriver}
			if mounted.Ride != nil {
				next.RateUserID = mounted.Ride.DriverID()
				next.RideID = mounted.Ride.ID
			}
			return next
		case ScreenRateDriver:
			return mounted
		}
		return ViewState{Role: ride.RoleNone, Screen: ScreenBrowse}
	}

	role := ride.RoleOf(snapshot, viewerID)
	if role != ride.RoleDriver && role != ride.RolePassenger {
		return ViewState{Role: role, Screen: ScreenBrowse}
	}
	return ViewState{
		Role:       role,
		Screen:     Route(role, snapshot.Status),
		Ride:       snapshot,
		LockReason: lockReason(role, snapshot.Status),
	}
}

func lockReason(role ride.Role, status models.RideStatus) string {
	switch {
	case role == ride.RolePassenger && status == models.StatusBooked:
		return LockAwaitingApproval
	case role == ride.RolePassenger && status == models.StatusOngoing:
		return LockRideInProgress
	case role == ride.RoleDriver && status.Active():
		return LockOfferingRide
	}
	return ""
}
