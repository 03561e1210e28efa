package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrUnauthorized signals an invalid or expired session. Callers propagate
// it to the authentication collaborator, which redirects to login; chat
// state is discarded.
var ErrUnauthorized = errors.New("unauthorized: session invalid or expired")

// Identity is what the authentication service provides about the signed-in
// user.
type Identity struct {
	ID   string
	Name string
}

// TokenSource yields the current bearer token for outgoing requests.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a token that lives as long as the session.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// NewToken mints an HS256 session token. The dev harness issues these on
// login.
func NewToken(secret, userID, name string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			Issuer:    "rentchat",
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// ParseToken verifies a token against the shared secret.
func ParseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// IdentityFromToken inspects a session token client-side without verifying
// the signature (the server does that on every call) and rejects tokens that
// are already expired so the UI can redirect to login before making doomed
// requests.
func IdentityFromToken(token string) (Identity, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Identity{}, ErrUnauthorized
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return Identity{}, ErrUnauthorized
	}
	if claims.UserID == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: claims.UserID, Name: claims.Name}, nil
}
