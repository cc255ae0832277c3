package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// RequireAdminKey guards admin routes with a static bearer key.
// Both sides are hashed first so the comparison is constant time regardless of length.
func RequireAdminKey(apiKey string) func(next http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			provided := sha256.Sum256([]byte(token))
			if apiKey == "" || subtle.ConstantTimeCompare(provided[:], expected[:]) != 1 {
				pkghttp.WriteForbidden(w, "invalid admin key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
