package middleware

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// IssueToken signs an HS256 bearer token for subject with the given permissions.
func IssueToken(secret, issuer, subject string, permissions []string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	claims := Claims{
		Permissions: permissions,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwtlib.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwtlib.NewNumericDate(now.Add(ttl))
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
