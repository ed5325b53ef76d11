package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/codelens/internal/api"
)

// MaxBodyBytes caps request bodies at limit bytes. Requests that declare a
// larger Content-Length are refused up front; chunked bodies are cut off by
// http.MaxBytesReader and surface as a decode error in the handler. A
// non-positive limit disables the check.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	tooLarge := fmt.Sprintf("request body exceeds %d bytes", limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil && r.Body != http.NoBody {
				if r.ContentLength > limit {
					api.Error(w, http.StatusRequestEntityTooLarge, tooLarge)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
