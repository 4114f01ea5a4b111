package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the requesting user.
const UserIDKey contextKey = "user_id"

// DefaultUserID scopes requests that carry no user identity. Chats,
// tracked channels, and saved responses are all partitioned by it.
const DefaultUserID = "default"

// UserExtractor resolves the requesting user. It checks the X-User-ID
// header, then the user_id query parameter, and falls back to
// DefaultUserID.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""

		if h := r.Header.Get("X-User-ID"); h != "" {
			userID = strings.TrimSpace(h)
		}
		if userID == "" {
			if q := r.URL.Query().Get("user_id"); q != "" {
				userID = strings.TrimSpace(q)
			}
		}
		if userID == "" {
			userID = DefaultUserID
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID retrieves the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return DefaultUserID
}
