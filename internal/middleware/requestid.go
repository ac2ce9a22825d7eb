package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id. Callers may supply their own;
// anything they send is echoed back so both sides log the same id.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the context key for the correlation id.
type requestIDKey struct{}

// RequestID attaches a correlation id to every request. The id stitches
// together the access log, security events, and error responses; a missing
// header gets a fresh UUID. Note the ingestion pipeline mints its own
// request_id per submission attempt, separate from this one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the correlation id, or "" outside the middleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
