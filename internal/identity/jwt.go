package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the player identity. The subject is preferred; username is accepted for
// tokens minted by the account service.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Username
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	raw := Token(r)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	return v.Parse(raw)
}

// Parse validates a raw token and returns its identity.
func (v *JWTVerifier) Parse(raw string) (string, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id := claims.identity()
	if id == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return id, nil
}

// Issue mints a token for identity. Used by tools and tests.
func (v *JWTVerifier) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
