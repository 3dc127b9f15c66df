// Package inventory keeps the per-event ticket selection a buyer builds before
// anything reaches the cart.
package inventory

import (
	"context"
	"fmt"

	"eventure-checkout/internal/discount"
	"eventure-checkout/internal/models"

	"github.com/shopspring/decimal"
)

// MaxQuantity is the most tickets of one type a single selection may request
const MaxQuantity = 1000

// EventSource fetches an event with its ticket catalog
type EventSource interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// CartAdder is the part of the cart a selection transfers into
type CartAdder interface {
	Add(line models.CartLine, quantity int)
}

// Totals are the aggregate values of the current selection
type Totals struct {
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Net      decimal.Decimal `json:"net"`
	Code     string          `json:"code,omitempty"`
}

// PromoApplication is an applied code and the discount it currently earns
type PromoApplication struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// Selection holds a selected-quantity counter per ticket type of one event.
// It is owned by a single caller and is not safe for concurrent use.
type Selection struct {
	event      models.Event
	quantities map[string]int
	promo      string
}

// Load fetches the event catalog and returns an empty selection for it
func Load(ctx context.Context, source EventSource, eventID string) (*Selection, error) {
	event, err := source.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets for event %s: %w", eventID, err)
	}
	return NewSelection(*event), nil
}

// NewSelection returns a selection with every counter at zero
func NewSelection(event models.Event) *Selection {
	s := &Selection{
		event:      event,
		quantities: make(map[string]int, len(event.Tickets)),
	}
	for _, tt := range event.Tickets {
		s.quantities[tt.ID] = 0
	}
	return s
}

// Event returns the event the selection is for
func (s *Selection) Event() models.Event {
	return s.event
}

// HasTicket reports whether the event sells the ticket type
func (s *Selection) HasTicket(ticketID string) bool {
	_, ok := s.event.Ticket(ticketID)
	return ok
}

// Quantity returns the selected count for a ticket type
func (s *Selection) Quantity(ticketID string) int {
	return s.quantities[ticketID]
}

// Increment selects one more ticket. It refuses, leaving the counter as is,
// when the per-order limit or the remaining stock is already reached.
func (s *Selection) Increment(ticketID string) error {
	tt, ok := s.event.Ticket(ticketID)
	if !ok {
		return models.ErrTicketTypeNotFound
	}

	current := s.quantities[ticketID]
	if limit, ok := tt.Limit(); ok && current >= limit {
		return limitError(tt, limit)
	}
	if remaining, ok := tt.Remaining(); ok && current >= remaining {
		return soldOutError(tt)
	}

	s.quantities[ticketID] = current + 1
	return nil
}

func limitError(tt *models.TicketType, limit int) error {
	return fmt.Errorf("%w: limit of %d %s tickets per order", models.ErrOrderLimitReached, limit, tt.Name)
}

func soldOutError(tt *models.TicketType) error {
	return fmt.Errorf("%w: %s", models.ErrSoldOut, tt.Name)
}

// Decrement deselects one ticket, never going below zero
func (s *Selection) Decrement(ticketID string) {
	if s.quantities[ticketID] > 0 {
		s.quantities[ticketID]--
	}
}

// SetQuantity sets a counter to n, clamped to the same bounds Increment
// enforces. On refusal the counter is left at the highest allowed value and
// the refusal is returned. n above MaxQuantity is rejected outright.
func (s *Selection) SetQuantity(ticketID string, n int) error {
	tt, ok := s.event.Ticket(ticketID)
	if !ok {
		return models.ErrTicketTypeNotFound
	}
	if n > MaxQuantity {
		return fmt.Errorf("%w: at most %d %s tickets can be selected", models.ErrInvalidInput, MaxQuantity, tt.Name)
	}

	target := max(n, 0)
	var refusal error
	if limit, ok := tt.Limit(); ok && target > limit {
		target = limit
		refusal = limitError(tt, limit)
	}
	if remaining, ok := tt.Remaining(); ok && target > remaining {
		target = remaining
		refusal = soldOutError(tt)
	}

	s.quantities[ticketID] = target
	return refusal
}

func (s *Selection) lines() []discount.Line {
	lines := make([]discount.Line, 0, len(s.event.Tickets))
	for i := range s.event.Tickets {
		tt := &s.event.Tickets[i]
		lines = append(lines, discount.Line{Ticket: tt, Quantity: s.quantities[tt.ID]})
	}
	return lines
}

// ApplyPromo evaluates code against the current selection. A code that
// matches no selected ticket clears any applied promo.
func (s *Selection) ApplyPromo(code string) (PromoApplication, error) {
	normalized := discount.Normalize(code)
	if normalized == "" {
		return PromoApplication{}, models.ErrPromoCodeRequired
	}

	res := discount.Evaluate(normalized, s.lines())
	if !res.Matched {
		s.promo = ""
		return PromoApplication{}, models.ErrInvalidPromoCode
	}

	s.promo = res.Code
	return PromoApplication{Code: res.Code, Amount: res.Amount}, nil
}

// ClearPromo removes the applied promo code
func (s *Selection) ClearPromo() {
	s.promo = ""
}

// AppliedCode returns the applied promo code, or ""
func (s *Selection) AppliedCode() string {
	return s.promo
}

// Totals recomputes the aggregates from the full selection
func (s *Selection) Totals() Totals {
	totals := Totals{Subtotal: decimal.Zero, Discount: decimal.Zero, Code: s.promo}

	for _, tt := range s.event.Tickets {
		qty := s.quantities[tt.ID]
		totals.Quantity += qty
		totals.Subtotal = totals.Subtotal.Add(tt.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	if s.promo != "" {
		totals.Discount = discount.Evaluate(s.promo, s.lines()).Amount
	}
	totals.Net = discount.Net(totals.Subtotal, totals.Discount)
	return totals
}

// LineKey returns the cart key a ticket type of this event is stored under
func (s *Selection) LineKey(tt *models.TicketType) models.LineKey {
	return models.LineKey{ID: s.event.ID + "_" + tt.Name, Variant: tt.Name}
}

// AddToCart pushes one line per selected ticket type into the cart with the
// unit price already net of the applied promo, then resets the selection.
// It returns the number of tickets transferred.
func (s *Selection) AddToCart(c CartAdder) (int, error) {
	total := s.Totals().Quantity
	if total == 0 {
		return 0, models.ErrEmptySelection
	}

	for i := range s.event.Tickets {
		tt := &s.event.Tickets[i]
		qty := s.quantities[tt.ID]
		if qty <= 0 {
			continue
		}

		price := tt.Price
		if def, ok := tt.FindDiscount(s.promo); ok {
			price = discount.UnitPrice(price, def)
		}

		c.Add(models.CartLine{
			Key:        s.LineKey(tt),
			Name:       s.event.Title + " - " + tt.Name,
			UnitPrice:  price,
			Image:      s.event.Image,
			Kind:       models.LineTicket,
			EventID:    s.event.ID,
			TicketType: tt.Name,
		}, qty)
	}

	s.Reset()
	return total, nil
}

// Reset zeroes every counter and drops the applied promo
func (s *Selection) Reset() {
	for id := range s.quantities {
		s.quantities[id] = 0
	}
	s.promo = ""
}
