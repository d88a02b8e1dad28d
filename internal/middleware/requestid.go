package middleware

import (
	"context"
	"net/http"

	"maktaba-api/pkg/uid"
)

type contextKey string

// requestIDKey carries the correlation id through the request context.
const requestIDKey contextKey = "request_id"

// RequestID tags each request with a correlation id, honoring one supplied
// by the caller, and echoes it back in the X-Request-ID header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uid.New()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request's correlation id, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
