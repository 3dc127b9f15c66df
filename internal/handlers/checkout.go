package handlers

import (
	"errors"
	"net/http"

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/checkout"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/models"

	"go.uber.org/zap"
)

// CheckoutHandler handles order submission
type CheckoutHandler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(registry *Registry, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{registry: registry, logger: logger}
}

// CheckoutRequest is the body of Submit. Guest is ignored for signed-in
// buyers.
type CheckoutRequest struct {
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Guest         models.GuestContact  `json:"guest"`
}

// CheckoutErrorResponse adds the failing cart line to reservation failures
type CheckoutErrorResponse struct {
	middleware.ErrorResponse
	Line *models.CartLine `json:"line,omitempty"`
}

// Submit runs checkout for the session's cart
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	s := h.registry.Get(r.Context(), middleware.GetCartID(r.Context()))
	confirmation, err := s.Checkout.Submit(r.Context(), checkout.Request{
		PaymentMethod: req.PaymentMethod,
		Identity:      auth.FromContext(r.Context()),
		Guest:         req.Guest,
	})
	if err != nil {
		var resErr *checkout.ReservationError
		if errors.As(err, &resErr) {
			line := resErr.Line
			writeJSON(w, statusFor(err), CheckoutErrorResponse{
				ErrorResponse: middleware.ErrorResponse{
					Error:     err.Error(),
					RequestID: middleware.GetRequestID(r.Context()),
				},
				Line: &line,
			})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, confirmation)
}
