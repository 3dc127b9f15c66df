// Package handlers exposes the cart, ticket selection, checkout and check-in
// flows as a JSON API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/backend"
	"eventure-checkout/internal/checkout"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/models"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", models.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var (
		reservationErr  *checkout.ReservationError
		confirmationErr *checkout.ConfirmationError
		apiErr          *backend.APIError
	)

	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrPromoCodeRequired),
		errors.Is(err, models.ErrEmptyCode):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrEventNotFound),
		errors.Is(err, models.ErrTicketTypeNotFound),
		errors.Is(err, models.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrOrderLimitReached),
		errors.Is(err, models.ErrSoldOut),
		errors.Is(err, models.ErrCheckoutInProgress),
		errors.Is(err, models.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptySelection),
		errors.Is(err, models.ErrInvalidPromoCode),
		errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrPaymentMethodRequired),
		errors.Is(err, models.ErrGuestDetailsRequired):
		return http.StatusUnprocessableEntity
	case errors.As(err, &reservationErr),
		errors.As(err, &confirmationErr),
		errors.As(err, &apiErr),
		errors.Is(err, models.ErrMissingRegistrationID):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status err maps to. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal Server Error"
	}
	middleware.WriteError(w, r, status, message)
}
