package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/go-chi/chi/v5/middleware"
)

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type RoleResolver interface {
	Role(ctx context.Context, userID string) (auth.Role, error)
}

// Authenticator puts the caller's Principal in the request context and binds the caller as the
// database actor. The role always comes from the profile store, never from the request.
type Authenticator struct {
	Tokens  TokenVerifier
	Roles   RoleResolver
	Service string
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Tokens.Verify(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, auth.ErrUnauthorized)
			return
		}
		role, err := a.Roles.Role(r.Context(), userID)
		if err != nil {
			logging.Err(logging.Fields{Service: a.Service, RequestID: middleware.GetReqID(r.Context()), UserID: userID,
				Step: "auth", Status: "role_lookup_failed"}, err)
			writeError(w, err)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), auth.Principal{UserID: userID, Role: role})
		ctx = postgres.WithActor(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, auth.ErrUnauthorized)
			return
		}
		if !p.IsAdmin() {
			writeError(w, orders.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
