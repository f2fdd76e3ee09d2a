// Package auth identifies the caller of a ledger write.
//
// The ledger does not authenticate end users. It accepts a caller that an
// upstream service has already authorised and records who that caller is.
// The caller travels as an explicit *Caller value; nothing is kept in
// package-level state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoIssuer is returned by Issue when no signing secret is configured.
var ErrNoIssuer = errors.New("token signing is not configured")

// Caller is the already-authorised party performing a request.
type Caller struct {
	Subject   string
	TokenID   string
	Anonymous bool
}

// Anonymous is the caller used when the server runs without a token secret.
var Anonymous = &Caller{Subject: "anonymous", Anonymous: true}

// CallerClaims are the JWT claims of a caller token.
type CallerClaims struct {
	jwt.RegisteredClaims
}

// Issuer issues and verifies caller tokens signed with HS256.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer returns nil when secret is empty, which callers treat as
// "authentication disabled".
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if secret == "" {
		return nil
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue creates a signed caller token for subject.
func (i *Issuer) Issue(subject string) (string, error) {
	if i == nil {
		return "", ErrNoIssuer
	}
	now := time.Now().UTC()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a caller token.
func (i *Issuer) Verify(tokenStr string) (*Caller, error) {
	if i == nil {
		return nil, ErrNoIssuer
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&CallerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return &Caller{Subject: claims.Subject, TokenID: claims.ID}, nil
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller carried by ctx, or Anonymous.
func CallerFrom(ctx context.Context) *Caller {
	if c, ok := ctx.Value(callerKey{}).(*Caller); ok && c != nil {
		return c
	}
	return Anonymous
}
