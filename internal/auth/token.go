package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/knotty-dev/knotty/internal/apierror"
)

// DefaultTokenTTL is the session lifetime when the config leaves it
// unset. The server is stateless: there is no revocation list, so the
// expiry is the only thing that ends a session server-side.
const DefaultTokenTTL = 2 * time.Hour

const subjectPrefix = "username:"

// TokenIssuer mints and verifies the HS256 bearer tokens issued by
// /login.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Mint issues a token whose subject is "username:<name>".
func (t *TokenIssuer) Mint(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subjectPrefix + username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Identify decodes a bearer token into its subject username. Expired
// tokens surface as a dedicated "Session expired" unauthorized error;
// every other failure is a generic unauthorized.
func (t *TokenIssuer) Identify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apierror.SessionExpired()
		}
		return "", apierror.Unauthorized()
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !strings.HasPrefix(claims.Subject, subjectPrefix) {
		return "", apierror.Unauthorized()
	}
	return strings.TrimPrefix(claims.Subject, subjectPrefix), nil
}
