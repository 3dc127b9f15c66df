package middleware

import (
	"context"
	"fmt"
	"net/http"

	"eventure-checkout/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	// CartSessionName is the cookie the cart id lives in
	CartSessionName = "eventure_cart"
	cartIDKey       = "cart_id"

	cartIDContextKey contextKey = "cart_id"
)

// CartSession gives every browser a stable cart id stored in a signed cookie
type CartSession struct {
	store  sessions.Store
	logger *zap.Logger
}

// NewCookieStore creates the signed and encrypted cookie store the cart
// session uses. Both keys are derived from secret.
func NewCookieStore(secret string, secure bool) (*sessions.CookieStore, error) {
	hashKey, blockKey, err := utils.CookieKeys(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cookie keys: %w", err)
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store, nil
}

// NewCartSession creates a new cart session middleware
func NewCartSession(store sessions.Store, logger *zap.Logger) *CartSession {
	return &CartSession{store: store, logger: logger}
}

// Handler loads the cart id from the session cookie, issuing a new one when
// the cookie is missing or cannot be decoded.
func (m *CartSession) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.store.Get(r, CartSessionName)
		if err != nil {
			// A stale or tampered cookie still yields a fresh session
			m.logger.Debug("replacing unreadable cart session", zap.Error(err))
		}

		cartID, _ := session.Values[cartIDKey].(string)
		if cartID == "" {
			cartID = uuid.NewString()
			session.Values[cartIDKey] = cartID
			if err := session.Save(r, w); err != nil {
				m.logger.Error("failed to save cart session", zap.Error(err))
				WriteError(w, r, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		ctx := context.WithValue(r.Context(), cartIDContextKey, cartID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCartID returns the cart id stored by CartSession
func GetCartID(ctx context.Context) string {
	id, _ := ctx.Value(cartIDContextKey).(string)
	return id
}

// SetCartID stores a cart id in ctx (for testing)
func SetCartID(ctx context.Context, cartID string) context.Context {
	return context.WithValue(ctx, cartIDContextKey, cartID)
}
