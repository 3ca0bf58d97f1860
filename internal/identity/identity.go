// Package identity turns request credentials into the opaque player identity used by the
// rest of the server.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// CookieName is the cookie carrying the session token.
const CookieName = "JWT"

// Verifier resolves the caller of a request.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) (string, error)
}

// Token extracts a bearer token from the Authorization header, the JWT cookie or the
// token query parameter, in that order. Browsers cannot set headers on websocket upgrades,
// hence the last two.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// HeaderVerifier trusts an identity header set by a fronting gateway.
type HeaderVerifier struct {
	Header string
}

func (v HeaderVerifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	name := v.Header
	if name == "" {
		name = "X-User-Id"
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
