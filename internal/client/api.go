// Package client is the rider-side half of the polling protocol: an API
// client, the view router, the reconciliation function and the poller
// that drives it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// API talks to the rideshare HTTP service on behalf of one user.
type API struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewAPI(baseURL, token string, timeout time.Duration) *API {
	return &API{BaseURL: baseURL, Token: token, Client: &http.Client{Timeout: timeout}}
}

// Error is a failed call. It unwraps to the matching ride sentinel, or to
// ride.ErrTransient for server-side failures.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Status >= 500 {
		return ride.ErrTransient
	}
	return ride.FromKind(e.Kind)
}

func (a *API) ListOpen(ctx context.Context) ([]*models.Ride, error) {
	var out []*models.Ride
	err := a.do(ctx, http.MethodGet, "/rides", nil, &out)
	return out, err
}

// ActiveRide returns nil, nil when the caller has no active ride.
func (a *API) ActiveRide(ctx context.Context) (*models.Ride, error) {
	var out *models.Ride
	err := a.do(ctx, http.MethodGet, "/rides/my-active-ride", nil, &out)
	return out, err
}

func (a *API) Ride(ctx context.Context, id string) (*models.Ride, error) {
	var out *models.Ride
	err := a.do(ctx, http.MethodGet, "/rides/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (a *API) Timeline(ctx context.Context, id string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	err := a.do(ctx, http.MethodGet, "/rides/"+url.PathEscape(id)+"/timeline", nil, &out)
	return out, err
}

func (a *API) Offer(ctx context.Context, req models.OfferRequest) (*models.Ride, error) {
	var out *models.Ride
	err := a.do(ctx, http.MethodPost, "/rides/offer", req, &out)
	return out, err
}

func (a *API) Book(ctx context.Context, id string) (*models.Ride, error) {
	return a.put(ctx, "/rides/book/"+url.PathEscape(id), nil)
}

func (a *API) SetStatus(ctx context.Context, id string, status models.RideStatus) (*models.Ride, error) {
	return a.put(ctx, "/rides/status/"+url.PathEscape(id), models.StatusRequest{Status: status})
}

func (a *API) Reject(ctx context.Context, id string) (*models.Ride, error) {
	return a.put(ctx, "/rides/reject/"+url.PathEscape(id), nil)
}

func (a *API) Withdraw(ctx context.Context, id string) (*models.Ride, error) {
	return a.put(ctx, "/rides/withdraw/"+url.PathEscape(id), nil)
}

func (a *API) Rate(ctx context.Context, userID string, score int) (models.UserRef, error) {
	var out models.UserRef
	err := a.do(ctx, http.MethodPost, "/users/rate", models.RateRequest{UserID: userID, Rating: score}, &out)
	return out, err
}

func (a *API) Me(ctx context.Context) (models.UserRef, error) {
	var out models.UserRef
	err := a.do(ctx, http.MethodGet, "/users/me", nil, &out)
	return out, err
}

func (a *API) put(ctx context.Context, path string, body any) (*models.Ride, error) {
	var out *models.Ride
	err := a.do(ctx, http.MethodPut, path, body, &out)
	return out, err
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ride.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ride.ErrTransient, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		e.Kind, e.Message = body.Error, body.Message
		return e
	}
	e.Kind = ride.KindInternal
	e.Message = string(bytes.TrimSpace(raw))
	return e
}
