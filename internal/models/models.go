package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// RideStatus is the lifecycle position of a ride.
type RideStatus string

const (
	StatusOpen      RideStatus = "open"
	StatusBooked    RideStatus = "booked"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
)

// ActiveStatuses are the statuses in which a ride still ties up its driver.
var ActiveStatuses = []RideStatus{StatusOpen, StatusBooked, StatusOngoing}

func (s RideStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusBooked, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}

func (s RideStatus) Active() bool {
	return s == StatusOpen || s == StatusBooked || s == StatusOngoing
}

// UserRef is the denormalized view of a user embedded in rides.
type UserRef struct {
	ID     string   `json:"id"`
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Rating *float64 `json:"rating,omitempty"`
}

// Ref is a user reference as it travels on the wire. Depending on who
// produced the payload it is either a bare identifier or an embedded user
// object; both decode into the same value and ResolveID reads either.
type Ref struct {
	ID   string
	User *UserRef
}

// RefTo returns a bare-id reference.
func RefTo(id string) Ref { return Ref{ID: id} }

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.User != nil {
		return json.Marshal(r.User)
	}
	return json.Marshal(r.ID)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	var obj struct {
		UserRef
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	u := obj.UserRef
	if u.ID == "" {
		u.ID = obj.LegacyID
	}
	*r = Ref{ID: u.ID, User: &u}
	return nil
}

// Ride is the shared record for one offer-to-completion trip.
type Ride struct {
	ID        string     `json:"id"`
	Driver    Ref        `json:"driver"`
	Passenger *Ref       `json:"passenger,omitempty"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	StartTime time.Time  `json:"startTime"`
	Status    RideStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	// Seq is the store-assigned creation order, used to break startTime ties.
	Seq int64 `json:"-"`
}

func (r *Ride) DriverID() string {
	if r == nil {
		return ""
	}
	return ResolveID(r.Driver)
}

func (r *Ride) PassengerID() string {
	if r == nil || r.Passenger == nil {
		return ""
	}
	return ResolveID(*r.Passenger)
}

// Clone returns a deep copy so stores never hand out their own records.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.Driver = r.Driver.clone()
	if r.Passenger != nil {
		p := r.Passenger.clone()
		c.Passenger = &p
	}
	return &c
}

func (r Ref) clone() Ref {
	if r.User == nil {
		return r
	}
	u := *r.User
	if u.Rating != nil {
		v := *u.Rating
		u.Rating = &v
	}
	return Ref{ID: r.ID, User: &u}
}

// OfferRequest is the body of POST /rides/offer.
type OfferRequest struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	StartTime time.Time `json:"startTime"`
}

// StatusRequest is the body of PUT /rides/status/{id}.
type StatusRequest struct {
	Status RideStatus `json:"status"`
}

// RateRequest is the body of POST /users/rate.
type RateRequest struct {
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
}
