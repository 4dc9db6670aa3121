// Package bearer issues and validates the HS256 access tokens that identify a
// user to the HTTP API and the realtime hub.
package bearer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "yacall"

type claims struct {
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier for secret. now defaults to time.Now.
func NewVerifier(secret []byte, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: secret, now: now}
}

// Verify returns the user a token was issued to. Every failure wraps domain.ErrUnauthorized.
func (v *Verifier) Verify(token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.UserID{}, fmt.Errorf("%w: token is required", domain.ErrUnauthorized)
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.UserID{}, fmt.Errorf("%w: %s", domain.ErrUnauthorized, reason(err))
	}

	user, err := domain.ParseUserID(parsed.Subject)
	if err != nil {
		return domain.UserID{}, fmt.Errorf("%w: subject: %v", domain.ErrUnauthorized, err)
	}
	return user, nil
}

// Sign issues a token for user valid for ttl from now.
func Sign(secret []byte, user domain.UserID, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is required")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   user.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}})
	signed, err := t.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token malformed"
	default:
		return err.Error()
	}
}
