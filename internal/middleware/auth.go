package middleware

import (
	"net/http"

	"eventure-checkout/internal/auth"

	"go.uber.org/zap"
)

// TokenVerifier resolves a bearer token to an identity
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// LoadIdentity puts the caller's identity into the request context. Requests
// without a token, or with one that fails verification, continue as guests.
func LoadIdentity(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("continuing as guest", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireIdentity rejects guests with 401
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()) == nil {
			WriteError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
