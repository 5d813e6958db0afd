package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/wallet",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/",
}

// withAuth validates the bearer token on every non-public route and attaches
// the resulting identity to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondAuthError(w, r, err)
			return
		}

		identity, err := a.service.Authenticate(r.Context(), token)
		if err != nil {
			respondAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// gated wraps a handler with an authorization gate chain. The identity must
// already be on the context (withAuth runs first); its absence is a 401.
func (a *API) gated(gate auth.Gate, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			respondAuthError(w, r, auth.ErrUnauthorized)
			return
		}
		if gate != nil {
			if err := gate(r.Context(), identity); err != nil {
				respondAuthError(w, r, err)
				return
			}
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.Join(auth.ErrUnauthorized, errors.New("missing bearer token"))
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.Join(auth.ErrUnauthorized, errors.New("invalid authorization scheme"))
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.Join(auth.ErrUnauthorized, errors.New("missing bearer token"))
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
