// Package session issues and verifies the gateway's own bearer tokens.
// A token is minted once a SAML assertion has been verified and mapped to
// a directory user; from then on the client authenticates with the token
// alone.
package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/passify/saml-gateway/pkg/models"
)

// ErrInvalidToken is returned for any token that fails parsing, signature
// verification, or claim extraction.
var ErrInvalidToken = errors.New("invalid session token")

// Issuer mints and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	clock  clockwork.Clock
}

// NewIssuer creates an Issuer. A nil clock means wall-clock time.
func NewIssuer(secret string, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{secret: []byte(secret), clock: clock}
}

// Mint creates a session token for the user. Tokens carry no expiry:
// a session lasts until the client discards the token or the signing
// secret rotates.
func (i *Issuer) Mint(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"email":    user.Email,
		"provider": user.Provider,
		"iat":      i.clock.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token and reconstructs the user
// it was minted for.
func (i *Issuer) Verify(tokenString string) (*models.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	user := &models.User{ID: userID}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if provider, ok := claims["provider"].(string); ok {
		user.Provider = provider
	}
	return user, nil
}
