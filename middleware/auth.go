package middleware

import (
	"context"
	"net/http"
	"strings"

	"docsync-server/auth"
	"docsync-server/core"

	"github.com/go-chi/render"
)

type contextKey string

const identityContextKey = contextKey("identity")

type Authenticator interface {
	Authenticate(h auth.Handshake) (*core.Identity, error)
}

// AuthJWT accepts a Bearer token, falling back to the session cookie, and
// stores the verified identity on the request context.
func AuthJWT(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handshake := auth.Handshake{CookieHeader: r.Header.Get("Cookie")}

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
					return
				}
				handshake.Token = parts[1]
			}

			if handshake.Token == "" && handshake.CookieHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
				return
			}

			identity, err := a.Authenticate(handshake)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by AuthJWT.
func IdentityFromContext(ctx context.Context) (*core.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*core.Identity)
	return identity, ok && identity != nil
}

// WithIdentity is used by handler tests that bypass AuthJWT.
func WithIdentity(ctx context.Context, identity *core.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
