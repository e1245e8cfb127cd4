package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

//go:embed migrations/001_create_rides.sql
var createRidesSQL string

const rideColumns = `seq, id, driver_id, passenger_id, origin, destination, start_time, status, created_at, updated_at`

// uniqueViolation is the postgres SQLSTATE raised by the partial unique
// indexes that back the one-active-ride invariants.
const uniqueViolation = "23505"

// PostgresStore implements RideStore and UserDirectory on postgres.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createRidesSQL); err != nil {
		return fmt.Errorf("apply 001_create_rides.sql: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

type rideRow struct {
	Seq         int64          `db:"seq"`
	ID          string         `db:"id"`
	DriverID    string         `db:"driver_id"`
	PassengerID sql.NullString `db:"passenger_id"`
	Origin      string         `db:"origin"`
	Destination string         `db:"destination"`
	StartTime   time.Time      `db:"start_time"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r rideRow) model() *models.Ride {
	out := &models.Ride{
		Seq:       r.Seq,
		ID:        r.ID,
		Driver:    models.RefTo(r.DriverID),
		From:      r.Origin,
		To:        r.Destination,
		StartTime: r.StartTime.UTC(),
		Status:    models.RideStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.PassengerID.Valid {
		p := models.RefTo(r.PassengerID.String)
		out.Passenger = &p
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// withUserLock runs fn in a transaction holding the user's advisory lock.
// Offer and book both take it, so the cross-role "one active ride" checks
// in their NOT EXISTS clauses see each other's committed rows.
func (p *PostgresStore) withUserLock(ctx context.Context, userID string, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	// The driver side of the guard is the rides_active_driver index; the
	// passenger side is checked in the same statement.
	err := p.withUserLock(ctx, r.DriverID(), func(tx *sqlx.Tx) error {
		return tx.QueryRowxContext(ctx, `
			INSERT INTO rides (id, driver_id, origin, destination, start_time, status, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, 'open', $6, $6
			WHERE NOT EXISTS (
				SELECT 1 FROM rides WHERE passenger_id = $2 AND status IN ('booked', 'ongoing')
			)
			RETURNING seq`,
			r.ID, r.DriverID(), r.From, r.To, r.StartTime, r.CreatedAt,
		).Scan(&r.Seq)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return ride.ErrActiveRideExists
	case err != nil:
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ride.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return row.model(), nil
}

func (p *PostgresStore) ListOpen(ctx context.Context) ([]*models.Ride, error) {
	var rows []rideRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+rideColumns+` FROM rides WHERE status = 'open' ORDER BY start_time ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open rides: %w", err)
	}
	out := make([]*models.Ride, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (p *PostgresStore) ActiveRideFor(ctx context.Context, userID string) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, `
		SELECT `+rideColumns+` FROM rides
		WHERE (driver_id = $1 OR passenger_id = $1) AND status <> 'completed'
		ORDER BY seq DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active ride: %w", err)
	}
	return row.model(), nil
}

func (p *PostgresStore) BookRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error) {
	var row rideRow
	err := p.withUserLock(ctx, passengerID, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, `
			UPDATE rides SET passenger_id = $2, status = 'booked', updated_at = $3
			WHERE id = $1 AND status = 'open' AND passenger_id IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM rides a
				WHERE (a.driver_id = $2 OR a.passenger_id = $2) AND a.status IN ('open', 'booked', 'ongoing')
			)
			RETURNING `+rideColumns, id, passengerID, at)
	})
	switch {
	case isUniqueViolation(err):
		return nil, ride.ErrActiveRideExists
	case errors.Is(err, sql.ErrNoRows):
		return nil, p.classifyBookMiss(ctx, id)
	case err != nil:
		return nil, fmt.Errorf("book ride: %w", err)
	}
	return row.model(), nil
}

// classifyBookMiss explains why the conditional booking matched no row.
func (p *PostgresStore) classifyBookMiss(ctx context.Context, id string) error {
	cur, err := p.GetRide(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status != models.StatusOpen {
		return ride.ErrAlreadyBooked
	}
	return ride.ErrActiveRideExists
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id, driverID string, from, to models.RideStatus, at time.Time) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, `
		UPDATE rides SET status = $4, updated_at = $5
		WHERE id = $1 AND driver_id = $2 AND status = $3
		RETURNING `+rideColumns, id, driverID, string(from), string(to), at)
	return p.conditional(ctx, id, row, err)
}

func (p *PostgresStore) ReleaseRide(ctx context.Context, id, passengerID string, at time.Time) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, `
		UPDATE rides SET status = 'open', passenger_id = NULL, updated_at = $3
		WHERE id = $1 AND passenger_id = $2 AND status = 'booked'
		RETURNING `+rideColumns, id, passengerID, at)
	return p.conditional(ctx, id, row, err)
}

func (p *PostgresStore) conditional(ctx context.Context, id string, row rideRow, err error) (*models.Ride, error) {
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := p.GetRide(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}
	return row.model(), nil
}

func (p *PostgresStore) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rides WHERE status = 'completed' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge completed rides: %w", err)
	}
	return res.RowsAffected()
}

type userRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Email       string `db:"email"`
	RatingSum   int64  `db:"rating_sum"`
	RatingCount int64  `db:"rating_count"`
}

func (u userRow) model() models.UserRef {
	return models.UserRef{ID: u.ID, Name: u.Name, Email: u.Email, Rating: averageRating(u.RatingSum, u.RatingCount)}
}

func (p *PostgresStore) EnsureUser(ctx context.Context, u models.UserRef) error {
	if u.ID == "" {
		return ride.ErrInvalidRequest
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)`,
		u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (p *PostgresStore) Users(ctx context.Context, ids ...string) (map[string]models.UserRef, error) {
	out := make(map[string]models.UserRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, email, rating_sum, rating_count FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.model()
	}
	return out, nil
}

func (p *PostgresStore) AddRating(ctx context.Context, id string, score int) (models.UserRef, error) {
	var row userRow
	err := p.db.GetContext(ctx, &row, `
		UPDATE users SET rating_sum = rating_sum + $2, rating_count = rating_count + 1
		WHERE id = $1
		RETURNING id, name, email, rating_sum, rating_count`, id, score)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserRef{}, ride.ErrNotFound
	}
	if err != nil {
		return models.UserRef{}, fmt.Errorf("rate user: %w", err)
	}
	return row.model(), nil
}
