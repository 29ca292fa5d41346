// Package middleware provides the HTTP middleware chain: request identity,
// client metadata capture, request-scoped time, panic recovery, and access
// logging.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"consentgate/pkg/requestcontext"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns every request an identifier, honoring one supplied by an
// upstream proxy, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
