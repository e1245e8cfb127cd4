package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rideshare/internal/auth"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

const maxBodyBytes = 1 << 20

// Pinger reports backend readiness for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Matcher *matcher.Service
	Auth    *auth.Verifier
	Ready   []Pinger
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(m *matcher.Service, v *auth.Verifier, logger *slog.Logger, ready ...Pinger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Matcher: m, Auth: v, Ready: ready, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.NewRoute().Subrouter()
	api.Use(s.authMiddleware)
	// my-active-ride is registered ahead of {id} so it is not captured as an id.
	api.HandleFunc("/rides", s.handleListOpen).Methods("GET")
	api.HandleFunc("/rides/my-active-ride", s.handleActiveRide).Methods("GET")
	api.HandleFunc("/rides/offer", s.handleOffer).Methods("POST")
	api.HandleFunc("/rides/book/{id}", s.handleBook).Methods("PUT")
	api.HandleFunc("/rides/status/{id}", s.handleStatus).Methods("PUT")
	api.HandleFunc("/rides/reject/{id}", s.handleReject).Methods("PUT")
	api.HandleFunc("/rides/withdraw/{id}", s.handleWithdraw).Methods("PUT")
	api.HandleFunc("/rides/{id}/timeline", s.handleTimeline).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/users/rate", s.handleRate).Methods("POST")
	api.HandleFunc("/users/me", s.handleMe).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, p := range s.Ready {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Matcher.ListOpen(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

// handleActiveRide answers null when the caller has no active ride.
func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	active, err := s.Matcher.ActiveRide(r.Context(), caller.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Matcher.Ride(r.Context(), callerFrom(r).ID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.Matcher.Timeline(r.Context(), callerFrom(r).ID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req models.OfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rd, err := s.Matcher.Offer(r.Context(), callerFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Matcher.Book(r.Context(), callerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rd, err := s.Matcher.SetStatus(r.Context(), callerFrom(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Matcher.Reject(r.Context(), callerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Matcher.Withdraw(r.Context(), callerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req models.RateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.Matcher.Rate(r.Context(), callerFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Matcher.Me(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, status := ride.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorBody{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ride.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", ride.ErrInvalidRequest, err)
	}
	return nil
}
