// Package jwtauth verifies the bearer tokens the auth service issues and turns them into a Principal.
package jwtauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

type Claims struct {
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify checks an HMAC-signed token and returns its subject as the caller.
func (v *Verifier) Verify(raw string) (identity.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return identity.Principal{}, fmt.Errorf("%w: invalid token: %w", apperr.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return identity.Principal{}, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthorized)
	}
	return identity.Principal{
		UserID: claims.Subject,
		Role:   claims.Role,
		Name:   claims.Name,
		Email:  claims.Email,
	}, nil
}

// Sign issues a token for p; used by tests and local tooling.
func (v *Verifier) Sign(p identity.Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" {
		return "", errors.New("jwtauth: user id is required")
	}
	now := time.Now()
	claims := Claims{
		Role:  p.Role,
		Name:  p.Name,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
