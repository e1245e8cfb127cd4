package client

import (
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// Screen is a client view selected by the router.
type Screen string

const (
	ScreenLoading            Screen = "loading"
	ScreenBrowse             Screen = "browse"
	ScreenWaitingForBookings Screen = "waiting_for_bookings"
	ScreenBookingRequest     Screen = "booking_request"
	ScreenDriving            Screen = "driving"
	ScreenRequestSent        Screen = "request_sent"
	ScreenRideInProgress     Screen = "ride_in_progress"
	ScreenRateDriver         Screen = "rate_driver"
)

// Action is a user intent a screen offers.
type Action string

const (
	ActionOffer    Action = "offer"
	ActionBook     Action = "book"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionWithdraw Action = "withdraw"
	ActionRate     Action = "rate"
	ActionDismiss  Action = "dismiss"
)

// Route maps the viewer's relationship to a ride and its status to a screen.
func Route(role ride.Role, status models.RideStatus) Screen {
	switch role {
	case ride.RoleDriver:
		switch status {
		case models.StatusOpen:
			return ScreenWaitingForBookings
		case models.StatusBooked:
			return ScreenBookingRequest
		case models.StatusOngoing:
			return ScreenDriving
		}
	case ride.RolePassenger:
		switch status {
		case models.StatusBooked:
			return ScreenRequestSent
		case models.StatusOngoing:
			return ScreenRideInProgress
		case models.StatusCompleted:
			return ScreenRateDriver
		}
	}
	return ScreenBrowse
}

var screenActions = map[Screen][]Action{
	ScreenBrowse:         {ActionBook, ActionOffer},
	ScreenBookingRequest: {ActionAccept, ActionReject},
	ScreenDriving:        {ActionComplete},
	ScreenRequestSent:    {ActionWithdraw},
	ScreenRateDriver:     {ActionRate, ActionDismiss},
}

// Actions lists what a screen lets the user do, in display order.
func Actions(s Screen) []Action {
	return append([]Action(nil), screenActions[s]...)
}

// Allows reports whether a screen offers action a.
func Allows(s Screen, a Action) bool {
	for _, x := range screenActions[s] {
		if x == a {
			return true
		}
	}
	return false
}
