// Package auth validates client tokens for WebSocket and REST access.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim. Only access tokens grant a
// connection; refresh tokens are rejected.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Typed authentication failures. All are terminal for the presenting
// connection.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWrongType    = errors.New("token type not allowed")
)

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID string
}

// Validator turns a raw token string into an identity or a typed
// authentication failure.
type Validator interface {
	Validate(token string) (Identity, error)
}

// Claims is the JWT payload shape issued to clients.
type Claims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HS256-signed tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator builds a validator over the shared HMAC secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if claims.Type == TokenTypeRefresh {
		return Identity{}, fmt.Errorf("%w: refresh token presented", ErrWrongType)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return Identity{UserID: userID}, nil
}

// Sign mints a token for the given user with the given type and
// lifetime.
func Sign(secret, userID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
