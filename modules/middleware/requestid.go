package middleware

import (
	"net/http"

	"github.com/gofrs/uuid/v5"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns a v4 UUID to requests arriving without an X-Request-ID
// and echoes the id on the response. The header rides through the forwarder
// to the upstream unchanged.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				if u, err := uuid.NewV4(); err == nil {
					id = u.String()
					r.Header.Set(requestIDHeader, id)
				}
			}
			if id != "" {
				w.Header().Set(requestIDHeader, id)
			}
			next.ServeHTTP(w, r)
		})
	}
}
