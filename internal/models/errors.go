package models

import "errors"

// Common errors used throughout the application
var (
	ErrEventNotFound      = errors.New("event not found")
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrLineNotFound       = errors.New("cart line not found")
	ErrInvalidInput       = errors.New("invalid input")

	// Selection
	ErrOrderLimitReached = errors.New("per-order ticket limit reached")
	ErrSoldOut           = errors.New("no more tickets available")
	ErrEmptySelection    = errors.New("no tickets selected")

	// Promo codes
	ErrPromoCodeRequired = errors.New("promo code is required")
	ErrInvalidPromoCode  = errors.New("invalid promo code for selected tickets")

	// Checkout
	ErrEmptyCart             = errors.New("cart is empty")
	ErrPaymentMethodRequired = errors.New("payment method is required")
	ErrGuestDetailsRequired  = errors.New("guest name and email are required")
	ErrCheckoutInProgress    = errors.New("checkout already in progress")
	ErrMissingRegistrationID = errors.New("backend returned no registration id")

	// Check-in
	ErrEmptyCode      = errors.New("ticket code is required")
	ErrScanInProgress = errors.New("a scan is already being processed")
)
