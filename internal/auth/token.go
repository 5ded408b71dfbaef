// Package auth mints and validates the short-lived call tokens that bind a
// media-stream WebSocket to the webhook that provisioned it. The webhook
// embeds the token in the stream's custom parameters; the stream handler
// refuses streams whose token is missing, expired or bound to another call.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CallClaims are the claims carried by a call token.
type CallClaims struct {
	CallID string `json:"call_id"`
	Caller string `json:"caller,omitempty"`
	jwt.RegisteredClaims
}

// DefaultTokenTTL bounds the window between webhook and stream connect.
const DefaultTokenTTL = 5 * time.Minute

var (
	ErrTokenInvalid  = errors.New("auth: invalid call token")
	ErrCallMismatch  = errors.New("auth: token bound to a different call")
	ErrMissingSecret = errors.New("auth: signing secret not configured")
)

// Tokens signs and validates call tokens with a shared HS256 secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens creates a token authority. A zero ttl uses DefaultTokenTTL.
func NewTokens(secret []byte, ttl time.Duration) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: secret, ttl: ttl}, nil
}

// Mint issues a token bound to one call id.
func (t *Tokens) Mint(callID, caller string) (string, error) {
	now := time.Now()
	claims := &CallClaims{
		CallID: callID,
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate checks signature and expiry and that the token is bound to the
// given call id.
func (t *Tokens) Validate(tokenString, callID string) (*CallClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*CallClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.CallID != callID {
		return nil, ErrCallMismatch
	}
	return claims, nil
}
