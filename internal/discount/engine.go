// Package discount evaluates promo codes against a ticket selection.
//
// Evaluation is always total: callers pass the full current selection and get
// the discount for exactly that selection. Nothing is patched incrementally, so
// a code whose ticket drops to zero quantity simply stops matching.
package discount

import (
	"strings"

	"eventure-checkout/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is one ticket type and its selected quantity
type Line struct {
	Ticket   *models.TicketType
	Quantity int
}

// LineDiscount is the discount one selected ticket type contributed
type LineDiscount struct {
	TicketID   string
	Definition models.DiscountDefinition
	Amount     decimal.Decimal
}

// Result is the outcome of evaluating a code over a selection
type Result struct {
	Code    string
	Amount  decimal.Decimal
	Matched bool
	Lines   []LineDiscount
}

// Normalize trims and upper-cases a code for comparison and display
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate computes the total discount code earns over lines. Lines with a
// non-positive quantity never match.
func Evaluate(code string, lines []Line) Result {
	result := Result{Code: Normalize(code), Amount: decimal.Zero}
	if result.Code == "" {
		return result
	}

	for _, line := range lines {
		if line.Quantity <= 0 || line.Ticket == nil {
			continue
		}
		def, ok := line.Ticket.FindDiscount(result.Code)
		if !ok {
			continue
		}

		amount := LineAmount(line.Ticket.Price, def, line.Quantity)
		result.Lines = append(result.Lines, LineDiscount{
			TicketID:   line.Ticket.ID,
			Definition: def,
			Amount:     amount,
		})
		result.Amount = result.Amount.Add(amount)
		result.Matched = true
	}

	return result
}

// LineAmount is the discount for quantity units at unitPrice.
// percent: unitPrice × pct/100 × quantity; fixed: amount × quantity.
func LineAmount(unitPrice decimal.Decimal, def models.DiscountDefinition, quantity int) decimal.Decimal {
	return PerUnit(unitPrice, def).Mul(decimal.NewFromInt(int64(quantity)))
}

// PerUnit is the discount a definition takes off a single unit
func PerUnit(unitPrice decimal.Decimal, def models.DiscountDefinition) decimal.Decimal {
	if def.Kind == models.DiscountPercent {
		return unitPrice.Mul(def.Amount).Div(hundred)
	}
	return def.Amount
}

// UnitPrice is the price of one unit after def, floored at zero
func UnitPrice(unitPrice decimal.Decimal, def models.DiscountDefinition) decimal.Decimal {
	return Net(unitPrice, PerUnit(unitPrice, def))
}

// Net is gross minus discount, never negative
func Net(gross, discount decimal.Decimal) decimal.Decimal {
	net := gross.Sub(discount)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
