package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// Session is the slice of [authcore.Client] the guards read.
type Session interface {
	SessionInfo() authcore.SessionInfo
	CurrentUser() *authcore.User
	Can(name string) bool
	Me(ctx context.Context) (*authcore.User, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session info a guard stored for the request.
func SessionFromContext(ctx context.Context) (authcore.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(authcore.SessionInfo)
	return info, ok
}

// RequireSession rejects requests with 401 unless the client holds an access
// token that has not expired locally.
func RequireSession(s Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := liveSession(s)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission is RequireSession plus a 403 when the cached user lacks
// perm. The decision is advisory; the backend re-checks every call.
func RequirePermission(s Session, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireSession(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Can(perm) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireAny passes when the cached user holds at least one of perms.
func RequireAny(s Session, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireSession(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range perms {
				if s.Can(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
	}
}

func liveSession(s Session) (authcore.SessionInfo, bool) {
	if s == nil {
		return authcore.SessionInfo{}, false
	}
	info := s.SessionInfo()
	if !info.Authenticated || info.Expired {
		return authcore.SessionInfo{}, false
	}
	return info, true
}
