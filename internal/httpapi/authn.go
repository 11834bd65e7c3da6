package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/rosca"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// EventSource cannot set headers, so the SSE endpoint also accepts the
	// token as a query parameter.
	tokenQueryParam = "access_token"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.issuer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get(authHeader)
		if raw == "" && r.URL.Path == "/v1/events" {
			if q := r.URL.Query().Get(tokenQueryParam); q != "" {
				raw = bearer + q
			}
		}
		token, err := extractBearerToken(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="rotasave"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="rotasave", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers lacking role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				handleAuthError(w, r, auth.ErrUnauthorized)
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rotasave", error="insufficient_scope"`)
				handleAuthError(w, r, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requirePermission is a no-op when authentication is disabled.
func (a *API) requirePermission(ctx context.Context, perm string) error {
	if a == nil || a.issuer == nil {
		return nil
	}
	return auth.Authorize(ctx, perm)
}

// actor resolves the principal a request acts as. With authentication on it
// is always the token subject; otherwise the request names it.
func (a *API) actor(ctx context.Context, claimed string) (rosca.Principal, error) {
	if a.issuer != nil {
		user, ok := auth.UserIDFromContext(ctx)
		if !ok {
			return "", auth.ErrUnauthorized
		}
		return rosca.Principal(user), nil
	}
	p := rosca.Principal(claimed)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
