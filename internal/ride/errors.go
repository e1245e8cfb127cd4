package ride

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidTransition = errors.New("invalid ride transition")
	ErrAlreadyBooked     = errors.New("ride already booked")
	ErrActiveRideExists  = errors.New("user already has an active ride")
	ErrForbidden         = errors.New("forbidden action")
	ErrNotFound          = errors.New("ride not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("unauthorized")
	// ErrTransient marks connectivity failures seen by clients. It never
	// crosses the wire.
	ErrTransient = errors.New("transient network failure")
)

// Wire kinds, shared by the server's error body and the client decoder.
const (
	KindInvalidTransition = "invalid_transition"
	KindAlreadyBooked     = "already_booked"
	KindActiveRideExists  = "active_ride_exists"
	KindForbidden         = "forbidden"
	KindNotFound          = "not_found"
	KindInvalidRequest    = "invalid_request"
	KindUnauthorized      = "unauthorized"
	KindInternal          = "internal"
)

var kinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrInvalidTransition, KindInvalidTransition, http.StatusConflict},
	{ErrAlreadyBooked, KindAlreadyBooked, http.StatusConflict},
	{ErrActiveRideExists, KindActiveRideExists, http.StatusConflict},
	{ErrForbidden, KindForbidden, http.StatusForbidden},
	{ErrNotFound, KindNotFound, http.StatusNotFound},
	{ErrInvalidRequest, KindInvalidRequest, http.StatusBadRequest},
	{ErrUnauthorized, KindUnauthorized, http.StatusUnauthorized},
}

// Kind returns the wire kind and HTTP status for err.
func Kind(err error) (string, int) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

// FromKind maps a wire kind back to its sentinel. Unknown kinds map to nil.
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// Retryable reports whether the same request may succeed if simply sent
// again. Only connectivity failures qualify; a lost booking race must be
// answered by refreshing the open list instead.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
