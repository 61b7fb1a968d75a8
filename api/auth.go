package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/registry"
	"github.com/warp/vsla-engine/session"
)

type contextKey string

const principalKey contextKey = "principal"

// Authenticate resolves the bearer token into a Principal and stores it in
// the request context. Every failure is a 401; the token is never echoed.
func Authenticate(v session.Verifier, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing bearer token", nil)
				return
			}

			sess, err := v.Verify(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token", nil)
				return
			}

			p, err := access.ClassifyPrincipal(sess)
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unusable session", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require lets the request through only if the principal's role holds
// action in m. Only the matrix is consulted.
func Require(m *access.Matrix, action access.Action, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required", nil)
				return
			}

			allowed, err := m.IsPermitted(p.Role, action)
			if err != nil {
				writeDomainError(w, log, "Authorization check failed", err)
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, CodeForbidden,
					"Role "+string(p.Role)+" may not "+string(action), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(principalKey).(access.Principal)
	return p, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// inScope reports whether the principal may see group g.
func inScope(p access.Principal, g registry.Group) bool {
	return registry.Scope(p).Matches(g)
}
