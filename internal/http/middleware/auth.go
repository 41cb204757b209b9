package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/titovtima/songsServer/internal/logging"
)

// Authenticator resolves a bearer credential to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (int64, error)
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate resolves the Authorization header when one is present.
// Requests without it continue anonymously; a credential that does not
// verify is rejected through onError.
func Authenticate(a Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			bearer, ok := cutPrefixFold(header, "Bearer ")
			if !ok {
				bearer = header
			}
			userID, err := a.Authenticate(r.Context(), strings.TrimSpace(bearer))
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
		})
	}
}

// UserID returns the authenticated caller, or 0 for anonymous requests.
func UserID(ctx context.Context) int64 {
	id, _ := logging.UserID(ctx)
	return id
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
