package handlers

import (
	"net/http"

	"eventure-checkout/internal/checkin"
	"eventure-checkout/internal/inventory"
	"eventure-checkout/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// Dependencies are what the router needs to serve the API
type Dependencies struct {
	Events      inventory.EventSource
	Registry    *Registry
	CheckIn     *checkin.Machine
	Verifier    middleware.TokenVerifier
	Sessions    sessions.Store
	ScanLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
	Logger      *zap.Logger
}

// NewRouter builds the API router
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tickets := NewTicketHandler(deps.Events, deps.Registry, logger)
	carts := NewCartHandler(deps.Registry)
	checkouts := NewCheckoutHandler(deps.Registry, logger)
	scans := NewCheckInHandler(deps.CheckIn)
	cartSession := middleware.NewCartSession(deps.Sessions, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.ErrorHandlingMiddleware(logger))
	r.Use(middleware.CORSMiddleware(deps.CORS))
	r.Use(middleware.LoadIdentity(deps.Verifier, logger))

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Buyer routes, keyed by the cart session cookie
	r.Group(func(r chi.Router) {
		r.Use(cartSession.Handler)

		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/tickets", tickets.GetTickets)
			r.Post("/selection", tickets.UpdateSelection)
			r.Post("/selection/{ticketID}/increment", tickets.Increment)
			r.Post("/selection/{ticketID}/decrement", tickets.Decrement)
			r.Post("/promo", tickets.ApplyPromo)
			r.Delete("/promo", tickets.ClearPromo)
			r.Post("/cart", tickets.AddToCart)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Patch("/", carts.SetPresentation)
			r.Delete("/", carts.ClearCart)
			r.Post("/items", carts.AddItem)
			r.Patch("/items", carts.UpdateItem)
			r.Delete("/items", carts.RemoveItem)
		})

		r.Post("/checkout", checkouts.Submit)
	})

	// Organizer routes
	r.Route("/checkin", func(r chi.Router) {
		r.Use(middleware.RequireIdentity)
		r.Get("/", scans.GetState)
		r.Post("/reset", scans.Reset)
		r.With(middleware.RateLimit(deps.ScanLimiter)).Post("/scans", scans.Scan)
	})

	return r
}
