package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// LineKind distinguishes ticket lines from merchandise lines
type LineKind string

const (
	LineTicket LineKind = "ticket"
	LineMerch  LineKind = "merch"
)

// LineKey identifies a cart line. Two selections of the same purchasable with
// different variants (t-shirt sizes, ticket types) are distinct lines.
type LineKey struct {
	ID      string `json:"id"`
	Variant string `json:"variant,omitempty"`
}

// String returns a stable textual form of the key, e.g. "42_VIP/VIP"
func (k LineKey) String() string {
	if k.Variant == "" {
		return k.ID
	}
	return k.ID + "/" + k.Variant
}

// CartLine represents one purchasable selection held in the cart
type CartLine struct {
	Key        LineKey         `json:"key"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Image      string          `json:"image,omitempty"`
	Kind       LineKind        `json:"kind,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	TicketType string          `json:"ticket_type,omitempty"`
}

// Subtotal returns quantity × unit price
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// IsEventBound reports whether checking out this line creates a registration
// with the backend. Only lines explicitly marked as merchandise without an
// event are settled outside the reserve phase; untyped lines count as tickets.
func (l CartLine) IsEventBound() bool {
	return l.EventID != "" || l.Kind != LineMerch
}

// RegistrationEventID returns the event a registration for this line targets.
// Ticket lines without an explicit event fall back to their own id.
func (l CartLine) RegistrationEventID() string {
	if l.EventID != "" {
		return l.EventID
	}
	return l.Key.ID
}

// Validate checks the stored-line invariants
func (l CartLine) Validate() error {
	if strings.TrimSpace(l.Key.ID) == "" {
		return errors.New("cart line id is required")
	}
	if l.Quantity < 1 {
		return errors.New("cart line quantity must be at least 1")
	}
	if l.UnitPrice.IsNegative() {
		return errors.New("cart line price cannot be negative")
	}
	switch l.Kind {
	case "", LineTicket, LineMerch:
	default:
		return errors.New("invalid cart line kind")
	}
	return nil
}
