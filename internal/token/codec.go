// Package token owns every signed credential the platform issues: the
// access/refresh JWT pair and the single-use out-of-band tokens that travel
// by email.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Common errors
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims carries the identity payload of access and refresh tokens. The
// token_version claim ties the token to the user's credential epoch.
type Claims struct {
	UserID       uuid.UUID    `json:"userId"`
	Role         storage.Role `json:"role"`
	TokenVersion int          `json:"tokenVersion"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the access/refresh JWT pair. Access and refresh
// tokens use distinct HMAC secrets so one can never pass for the other.
type Codec struct {
	accessSecret   []byte
	refreshSecret  []byte
	accessExpires  time.Duration
	refreshExpires time.Duration
	clock          clock.Clock
}

func NewCodec(accessSecret, refreshSecret string, accessExpires, refreshExpires time.Duration, clk clock.Clock) *Codec {
	return &Codec{
		accessSecret:   []byte(accessSecret),
		refreshSecret:  []byte(refreshSecret),
		accessExpires:  accessExpires,
		refreshExpires: refreshExpires,
		clock:          clk,
	}
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessExpires }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshExpires }

// SignAccess issues a short-lived access token for the user.
func (c *Codec) SignAccess(u *storage.User) (string, error) {
	return c.sign(u, c.accessSecret, c.accessExpires)
}

// SignRefresh issues a long-lived refresh token for the user.
func (c *Codec) SignRefresh(u *storage.User) (string, error) {
	return c.sign(u, c.refreshSecret, c.refreshExpires)
}

func (c *Codec) sign(u *storage.User, secret []byte, ttl time.Duration) (string, error) {
	now := c.clock.Now()
	claims := Claims{
		UserID:       u.ID,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ID:        uuid.New().String(), // two logins in the same second must not collide
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess parses and verifies an access token.
func (c *Codec) VerifyAccess(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.accessSecret)
}

// VerifyRefresh parses and verifies a refresh token.
func (c *Codec) VerifyRefresh(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.refreshSecret)
}

func (c *Codec) verify(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(c.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrTokenInvalid
}
