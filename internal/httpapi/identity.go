package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CookieName carries the opaque per-user identifier. The value is a bare
// client-supplied token, not verified; it only partitions history.
const CookieName = "user_id"

const maxUserIDLen = 128

type contextKey int

const userIDKey contextKey = iota

// withIdentity resolves the caller's user id from the cookie, minting a new
// one (and setting the cookie) when absent or malformed. The cookie lives as
// long as the history TTL.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if c, err := r.Cookie(CookieName); err == nil {
			userID = strings.TrimSpace(c.Value)
		}

		if userID == "" || len(userID) > maxUserIDLen {
			userID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    userID,
				Path:     "/",
				MaxAge:   int(s.cfg.HistoryTTL.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
