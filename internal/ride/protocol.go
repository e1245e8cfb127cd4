package ride

import "github.com/example/rideshare/internal/models"

// Role is a viewer's relationship to a ride.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
	RoleBystander Role = "bystander"
	RoleNone      Role = "none"
)

// RoleOf classifies viewerID against r. A nil ride or empty viewer is RoleNone.
func RoleOf(r *models.Ride, viewerID string) Role {
	viewerID = models.ResolveID(viewerID)
	if r == nil || viewerID == "" {
		return RoleNone
	}
	switch {
	case models.SameUser(viewerID, r.Driver):
		return RoleDriver
	case r.Passenger != nil && models.SameUser(viewerID, *r.Passenger):
		return RolePassenger
	default:
		return RoleBystander
	}
}

// CanView reports whether viewerID may read the detail of r. Participants
// always may; everyone else only while the ride is still open.
func CanView(r *models.Ride, viewerID string) bool {
	switch RoleOf(r, viewerID) {
	case RoleDriver, RolePassenger:
		return true
	case RoleBystander:
		return r.Status == models.StatusOpen
	}
	return false
}

// IsParticipant reports whether viewerID is the driver or passenger of r.
func IsParticipant(r *models.Ride, viewerID string) bool {
	role := RoleOf(r, viewerID)
	return role == RoleDriver || role == RolePassenger
}
