package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the buyer's payment selection at checkout
type PaymentMethod string

const (
	PaymentBkash  PaymentMethod = "bkash"
	PaymentNagad  PaymentMethod = "nagad"
	PaymentPathao PaymentMethod = "pathao"
	PaymentCard   PaymentMethod = "card"
)

// Valid returns true for the supported payment methods
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBkash, PaymentNagad, PaymentPathao, PaymentCard:
		return true
	default:
		return false
	}
}

// WireLabel returns the label the registration endpoint records. Every wallet
// provider is reported as mobile banking.
func (m PaymentMethod) WireLabel() string {
	if m == PaymentCard {
		return "Card"
	}
	return "Mobile Banking"
}

// RegistrationStatus represents the backend status of a registration
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// DefaultTicketType is the label sent for event lines without a ticket type
const DefaultTicketType = "General"

// GuestContact holds the contact fields an unauthenticated buyer supplies
type GuestContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Complete reports whether the required guest fields are present
func (g GuestContact) Complete() bool {
	return strings.TrimSpace(g.Name) != "" && strings.TrimSpace(g.Email) != ""
}

// RegistrationRequest is the reserve-phase payload for one event-bound line
type RegistrationRequest struct {
	EventID       string      `json:"event_id"`
	TicketType    string      `json:"ticket_type"`
	Quantity      int         `json:"quantity"`
	Price         json.Number `json:"price"`
	PaymentMethod string      `json:"payment_method"`
	GuestName     string      `json:"guest_name,omitempty"`
	GuestEmail    string      `json:"guest_email,omitempty"`
	GuestPhone    string      `json:"guest_phone,omitempty"`
}

// NewRegistrationRequest builds the reserve payload for a cart line. Guest
// fields are only sent when guest is non-nil.
func NewRegistrationRequest(line CartLine, method PaymentMethod, guest *GuestContact) RegistrationRequest {
	ticketType := line.TicketType
	if ticketType == "" {
		ticketType = DefaultTicketType
	}

	req := RegistrationRequest{
		EventID:       line.RegistrationEventID(),
		TicketType:    ticketType,
		Quantity:      line.Quantity,
		Price:         json.Number(line.UnitPrice.String()),
		PaymentMethod: method.WireLabel(),
	}
	if guest != nil {
		req.GuestName = strings.TrimSpace(guest.Name)
		req.GuestEmail = strings.TrimSpace(guest.Email)
		req.GuestPhone = strings.TrimSpace(guest.Phone)
	}
	return req
}

// Registration is the backend record created by the reserve phase
type Registration struct {
	ID            string             `json:"id"`
	Status        RegistrationStatus `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	Tickets       []string           `json:"tickets,omitempty"`
}

// OrderConfirmation is what a successful checkout hands to the confirmation view
type OrderConfirmation struct {
	RegistrationIDs []string        `json:"registration_ids"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	BuyerName       string          `json:"buyer_name"`
	BuyerEmail      string          `json:"buyer_email,omitempty"`
	PlacedAt        time.Time       `json:"placed_at"`
}
