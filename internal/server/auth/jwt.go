// Package auth issues and verifies the HS256 access and refresh tokens.
// Everything here is pure: no store access, no global state.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("token secret is empty")
	ErrInvalidTTL    = errors.New("token validity must be positive")
)

// Reason classifies why a token was rejected.
type Reason string

const (
	ReasonExpired           Reason = "token expired"
	ReasonMalformed         Reason = "malformed token"
	ReasonSignatureMismatch Reason = "invalid token signature"
)

// VerifyError is returned by the verifiers for any rejected token.
type VerifyError struct {
	Reason Reason
	Err    error
}

func (e *VerifyError) Error() string { return string(e.Reason) }

func (e *VerifyError) Unwrap() error { return e.Err }

// AccessClaims identify the account an access token was issued to.
type AccessClaims struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// RefreshClaims carry only the account id.
type RefreshClaims struct {
	ID string `json:"id"`
}

// Token types stamped into the "typ" claim. A token verifies only as the
// type it was issued as, even when both secrets are the same.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type accessToken struct {
	jwt.RegisteredClaims
	AccessClaims
	Type string `json:"typ"`
}

type refreshToken struct {
	jwt.RegisteredClaims
	RefreshClaims
	Type string `json:"typ"`
}

// IssueAccessToken signs a short-lived token carrying the account identity.
func IssueAccessToken(c AccessClaims, secret []byte, ttl time.Duration) (string, error) {
	return issue(&accessToken{AccessClaims: c}, secret, ttl, time.Now())
}

// IssueRefreshToken signs a long-lived token carrying only the account id.
// Every call yields a distinct token, even within the same second.
func IssueRefreshToken(c RefreshClaims, secret []byte, ttl time.Duration) (string, error) {
	return issue(&refreshToken{RefreshClaims: c}, secret, ttl, time.Now())
}

// VerifyAccessToken checks signature, algorithm and expiry and returns the
// embedded claims.
func VerifyAccessToken(token string, secret []byte) (*AccessClaims, error) {
	claims := &accessToken{}
	if err := verify(token, claims, secret, time.Now()); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.subjectID() == "" {
		return nil, &VerifyError{Reason: ReasonMalformed}
	}
	return &claims.AccessClaims, nil
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens.
func VerifyRefreshToken(token string, secret []byte) (*RefreshClaims, error) {
	claims := &refreshToken{}
	if err := verify(token, claims, secret, time.Now()); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.subjectID() == "" {
		return nil, &VerifyError{Reason: ReasonMalformed}
	}
	return &claims.RefreshClaims, nil
}

type registered interface {
	jwt.Claims
	setRegistered(jwt.RegisteredClaims)
}

func (t *accessToken) setRegistered(rc jwt.RegisteredClaims) {
	t.RegisteredClaims = rc
	t.Type = typeAccess
}

func (t *refreshToken) setRegistered(rc jwt.RegisteredClaims) {
	t.RegisteredClaims = rc
	t.Type = typeRefresh
}

func issue(claims registered, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	claims.setRegistered(jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verify(token string, claims jwt.Claims, secret []byte, now time.Time) error {
	if token == "" {
		return &VerifyError{Reason: ReasonMalformed}
	}

	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerifyError{Reason: ReasonExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &VerifyError{Reason: ReasonSignatureMismatch, Err: err}
	default:
		return &VerifyError{Reason: ReasonMalformed, Err: err}
	}
}

func (t *accessToken) subjectID() string  { return t.AccessClaims.ID }
func (t *refreshToken) subjectID() string { return t.RefreshClaims.ID }
