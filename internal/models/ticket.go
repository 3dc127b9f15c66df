package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountKind is the arithmetic a discount definition applies
type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

// TicketClass is the free/paid classification of a ticket type
type TicketClass string

const (
	TicketFree TicketClass = "free"
	TicketPaid TicketClass = "paid"
)

// OptionalInt is an integer the backend may omit, send as a number, or send as
// a numeric string (organizer form input is stored verbatim).
type OptionalInt struct {
	Value int
	Valid bool
}

// IntOf returns a set OptionalInt
func IntOf(v int) OptionalInt {
	return OptionalInt{Value: v, Valid: true}
}

func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(o.Value)), nil
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	s, ok := unquoteFlex(data)
	if !ok {
		*o = OptionalInt{}
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*o = OptionalInt{Value: int(n), Valid: true}
	return nil
}

// DiscountDefinition is one promo code attached to a ticket type
type DiscountDefinition struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
	Kind   DiscountKind    `json:"type"`
}

func (d *DiscountDefinition) UnmarshalJSON(data []byte) error {
	var wire struct {
		Code   string          `json:"code"`
		Amount json.RawMessage `json:"amount"`
		Kind   DiscountKind    `json:"type"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	amount, err := parseFlexDecimal(wire.Amount)
	if err != nil {
		return fmt.Errorf("discount %q: %w", wire.Code, err)
	}
	d.Code = wire.Code
	d.Amount = amount
	d.Kind = wire.Kind
	if d.Kind != DiscountPercent {
		d.Kind = DiscountFixed
	}
	return nil
}

// TicketType is a purchasable ticket catalog entry for an event
type TicketType struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	Description       string               `json:"description,omitempty"`
	Price             decimal.Decimal      `json:"price"`
	Quantity          OptionalInt          `json:"quantity"`
	Sold              OptionalInt          `json:"sold"`
	RemainingQuantity OptionalInt          `json:"remainingQuantity"`
	LimitPerOrder     OptionalInt          `json:"limitPerOrder"`
	Class             TicketClass          `json:"type,omitempty"`
	FormID            string               `json:"form_id,omitempty"`
	FormTitle         string               `json:"form_title,omitempty"`
	Discounts         []DiscountDefinition `json:"discounts,omitempty"`
}

func (tt *TicketType) UnmarshalJSON(data []byte) error {
	type alias TicketType
	var wire struct {
		alias
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	price, err := parseFlexDecimal(wire.Price)
	if err != nil {
		return fmt.Errorf("ticket type %q price: %w", wire.Name, err)
	}
	*tt = TicketType(wire.alias)
	tt.Price = price
	if tt.ID == "" {
		tt.ID = tt.Name
	}
	return nil
}

// Remaining returns the number of tickets still on sale and whether that
// figure is known. An explicit remaining count from the backend wins over
// quantity minus sold.
func (tt *TicketType) Remaining() (int, bool) {
	if tt.RemainingQuantity.Valid {
		return max(tt.RemainingQuantity.Value, 0), true
	}
	if !tt.Quantity.Valid {
		return 0, false
	}
	sold := 0
	if tt.Sold.Valid {
		sold = tt.Sold.Value
	}
	return max(tt.Quantity.Value-sold, 0), true
}

// Limit returns the per-order cap and whether one is defined. A zero or
// negative limit means the organizer left the field empty.
func (tt *TicketType) Limit() (int, bool) {
	if !tt.LimitPerOrder.Valid || tt.LimitPerOrder.Value <= 0 {
		return 0, false
	}
	return tt.LimitPerOrder.Value, true
}

// MaxSelectable returns min(remaining, limit) over whichever bounds exist
func (tt *TicketType) MaxSelectable() (int, bool) {
	remaining, hasRemaining := tt.Remaining()
	limit, hasLimit := tt.Limit()
	switch {
	case hasRemaining && hasLimit:
		return min(remaining, limit), true
	case hasRemaining:
		return remaining, true
	case hasLimit:
		return limit, true
	default:
		return 0, false
	}
}

// IsFree returns true for zero-priced tickets
func (tt *TicketType) IsFree() bool {
	if tt.Class != "" {
		return tt.Class == TicketFree
	}
	return tt.Price.IsZero()
}

// FindDiscount looks up a definition by case-insensitive exact code match
func (tt *TicketType) FindDiscount(code string) (DiscountDefinition, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DiscountDefinition{}, false
	}
	for _, d := range tt.Discounts {
		if strings.EqualFold(strings.TrimSpace(d.Code), code) {
			return d, true
		}
	}
	return DiscountDefinition{}, false
}

// Event is the subset of a backend event the checkout needs
type Event struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Image   string       `json:"background_image_url,omitempty"`
	Tickets []TicketType `json:"tickets"`
}

// Ticket returns the ticket type with the given id
func (e *Event) Ticket(id string) (*TicketType, bool) {
	for i := range e.Tickets {
		if e.Tickets[i].ID == id {
			return &e.Tickets[i], true
		}
	}
	return nil, false
}

// unquoteFlex strips JSON quoting from a number-or-string value. It reports
// false for null, empty and blank strings.
func unquoteFlex(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", false
	}
	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func parseFlexDecimal(data json.RawMessage) (decimal.Decimal, error) {
	s, ok := unquoteFlex(data)
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
