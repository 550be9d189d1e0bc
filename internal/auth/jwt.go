package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the custom claims the core understands.
type Claims struct {
	DisplayName string `json:"display_name"`
	Admin       bool   `json:"admin"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

var _ Authenticator = (*JWTAuthenticator)(nil)

func (a *JWTAuthenticator) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}
	return Identity{
		UserID:      claims.Subject,
		DisplayName: name,
		Elevated:    claims.Admin,
	}, nil
}
