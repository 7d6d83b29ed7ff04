package dav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/ratelimit"

	"github.com/stashdav/stashdav/pkg/session"
	"github.com/stashdav/stashdav/pkg/store"
)

type ctxKey int

const principalKey ctxKey = iota

// PrincipalID returns the authenticated principal for a request context.
// Zero means the auth middleware did not run; handlers behind it never see
// that.
func PrincipalID(ctx context.Context) uint {
	id, _ := ctx.Value(principalKey).(uint)
	return id
}

func withPrincipal(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, principalKey, id)
}

// Auth guards the webdav mount with HTTP Basic credentials. Failed attempts
// share one rate limiter so credential guessing cannot run hot, and every
// authenticated request touches a device session.
type Auth struct {
	store    *store.Store
	sessions *session.Manager
	realm    string
	failures ratelimit.Limiter
}

func NewAuth(s *store.Store, sessions *session.Manager, realm string) *Auth {
	return &Auth{
		store:    s,
		sessions: sessions,
		realm:    realm,
		failures: ratelimit.New(5), // failed logins per second, process-wide
	}
}

func (a *Auth) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, a.realm))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			a.challenge(w)
			return
		}
		p, authed := a.store.Authenticate(r.Context(), username, password)
		if !authed {
			a.failures.Take()
			a.challenge(w)
			return
		}

		if a.sessions != nil {
			_, err := a.sessions.Touch(r.Context(), p.ID, clientIP(r), r.UserAgent())
			var limitErr *session.LimitExceededError
			if errors.As(err, &limitErr) {
				http.Error(w, limitErr.Error(), http.StatusServiceUnavailable)
				return
			}
			if err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p.ID)))
	})
}
