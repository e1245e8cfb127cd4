// Package auth verifies bearer tokens issued by the identity provider and
// carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// Claims are the token claims the service reads. Subject is the user id.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks an HS256 token and returns the identity it names.
// Every failure wraps ride.ErrUnauthorized.
func (v *Verifier) Verify(token string) (models.UserRef, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return models.UserRef{}, fmt.Errorf("%w: %v", ride.ErrUnauthorized, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return models.UserRef{}, fmt.Errorf("%w: token has no subject", ride.ErrUnauthorized)
	}
	return models.UserRef{ID: sub, Name: claims.Name, Email: claims.Email}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errors.New("missing bearer token")
	}
	tok := strings.TrimSpace(header[len(prefix):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}

// Issue signs a token for user. The service never issues tokens itself;
// this backs the rider CLI's token command and tests.
func Issue(secret string, user models.UserRef, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, u models.UserRef) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the authenticated caller stored by WithUser.
func UserFrom(ctx context.Context) (models.UserRef, bool) {
	u, ok := ctx.Value(userKey).(models.UserRef)
	return u, ok && u.ID != ""
}
