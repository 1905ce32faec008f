package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Out-of-band token errors. Handlers map these onto the flow-specific HTTP
// responses; expired and already-used are distinct states on purpose.
var (
	ErrOOBInvalid = errors.New("out-of-band token is invalid")
	ErrOOBExpired = errors.New("out-of-band token has expired")
	ErrOOBUsed    = errors.New("out-of-band token was already used")
)

// IsOOBDenial reports whether err is one of the token rejection sentinels,
// as opposed to an infrastructure failure. Callers running inside a
// transaction commit on denials so Consume's cleanup writes persist.
func IsOOBDenial(err error) bool {
	return errors.Is(err, ErrOOBInvalid) || errors.Is(err, ErrOOBExpired) || errors.Is(err, ErrOOBUsed)
}

type oobClaims struct {
	UserID uuid.UUID         `json:"userId"`
	Kind   storage.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// OutOfBand mints and consumes the single-use tokens that travel by email:
// verification, password reset and magic link. The token string is itself a
// signed JWT, but validity is decided by the database row — a structurally
// valid token with no live row is dead.
type OutOfBand struct {
	secret []byte
	ttls   map[storage.TokenKind]time.Duration
	clock  clock.Clock
}

func NewOutOfBand(secret string, verificationTTL, resetTTL, magicLinkTTL time.Duration, clk clock.Clock) *OutOfBand {
	return &OutOfBand{
		secret: []byte(secret),
		ttls: map[storage.TokenKind]time.Duration{
			storage.KindVerification:  verificationTTL,
			storage.KindPasswordReset: resetTTL,
			storage.KindMagicLink:     magicLinkTTL,
		},
		clock: clk,
	}
}

// TTL reports the configured lifetime for a token kind.
func (o *OutOfBand) TTL(kind storage.TokenKind) time.Duration {
	return o.ttls[kind]
}

// Mint issues a fresh token of the given kind for the user, invalidating any
// unused tokens of the same kind first so exactly one is live at a time.
func (o *OutOfBand) Mint(ctx context.Context, st storage.Store, userID uuid.UUID, kind storage.TokenKind) (*storage.OutOfBandToken, error) {
	now := o.clock.Now()
	ttl := o.ttls[kind]

	claims := oobClaims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.New().String(), // keeps concurrent mints distinct
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if _, err := st.DeleteUnusedOutOfBandTokens(ctx, userID, kind); err != nil {
		return nil, fmt.Errorf("failed to invalidate previous tokens: %w", err)
	}

	row := &storage.OutOfBandToken{
		ID:        uuid.New(),
		Kind:      kind,
		Token:     signed,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := st.CreateOutOfBandToken(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return row, nil
}

// Consume validates and atomically spends a token. Verification tokens are
// deleted outright; reset and magic-link tokens are marked used and retained.
// An expired row is deleted on sight. The returned row identifies the user.
func (o *OutOfBand) Consume(ctx context.Context, st storage.Store, kind storage.TokenKind, tokenString string, ip, userAgent *string) (*storage.OutOfBandToken, error) {
	claims, err := o.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrOOBInvalid
	}

	row, err := st.GetOutOfBandToken(ctx, kind, tokenString)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOOBInvalid
	}
	if err != nil {
		return nil, err
	}
	if row.UserID != claims.UserID {
		return nil, ErrOOBInvalid
	}
	if row.Used {
		return nil, ErrOOBUsed
	}

	now := o.clock.Now()
	if row.ExpiresAt.Before(now) {
		_ = st.DeleteOutOfBandToken(ctx, row.ID)
		return nil, ErrOOBExpired
	}

	if kind == storage.KindVerification {
		if err := st.DeleteOutOfBandToken(ctx, row.ID); err != nil {
			return nil, err
		}
	} else {
		if err := st.MarkOutOfBandTokenUsed(ctx, row.ID, now, ip, userAgent); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrOOBUsed
			}
			return nil, err
		}
		row.Used = true
		row.UsedAt = &now
		row.IPAddress = ip
		row.UserAgent = userAgent
	}
	return row, nil
}

func (o *OutOfBand) parse(tokenString string) (*oobClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &oobClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return o.secret, nil
	}, jwt.WithTimeFunc(o.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrOOBExpired
		}
		return nil, ErrOOBInvalid
	}
	if claims, ok := token.Claims.(*oobClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrOOBInvalid
}
