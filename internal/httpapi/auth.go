package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/bakery-inventory/internal/domain/auth"
	"github.com/xenking/bakery-inventory/internal/domain/order"
)

type actorKey struct{}

func withActor(ctx context.Context, a order.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the authenticated caller, if any.
func actorFrom(ctx context.Context) (order.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(order.Actor)
	return a, ok
}

// authenticate resolves an optional bearer token. A present but invalid
// token is rejected even on routes that allow anonymous callers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "authorization must be a bearer token", nil)
			return
		}
		claims, err := s.Tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token", nil)
			return
		}

		a := order.Actor{UserID: claims.UserID(), Role: order.RoleCustomer}
		if claims.Role == auth.RoleAdmin {
			a.Role = order.RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := actorFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		if a.Role != order.RoleAdmin {
			writeError(w, http.StatusForbidden, "administrator role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mustActor returns the caller on routes behind requireUser.
func mustActor(r *http.Request) order.Actor {
	a, _ := actorFrom(r.Context())
	return a
}
