package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
)

// Claims carried by a bilbotrack access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens and answers driver assignment
// questions from the trip repository. It implements ports.Authenticator.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	trips  ports.TripRepository
}

// NewJWTAuthenticator creates a new JWTAuthenticator.
func NewJWTAuthenticator(secret, issuer string, trips ports.TripRepository) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, trips: trips}
}

func (a *JWTAuthenticator) VerifyIdentity(_ context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %v: %w", err, domain.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", domain.ErrUnauthorized)
	}

	role := claims.Role
	if role == "" {
		role = domain.RolePassenger
	}
	return &domain.Identity{UserID: claims.Subject, Role: role}, nil
}

func (a *JWTAuthenticator) IsDriverOfTrip(ctx context.Context, userID, tripID string) (bool, error) {
	trip, err := a.trips.GetByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return trip.DriverID != "" && trip.DriverID == userID, nil
}

// Issue signs a token for userID. Used by the token CLI and tests.
func (a *JWTAuthenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
