package handlers

import (
	"fmt"
	"net/http"

	"eventure-checkout/internal/inventory"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TicketHandler handles per-event ticket selection requests
type TicketHandler struct {
	events   inventory.EventSource
	registry *Registry
	logger   *zap.Logger
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(events inventory.EventSource, registry *Registry, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{events: events, registry: registry, logger: logger}
}

// TicketView is one ticket type with its bounds and current selection
type TicketView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Free          bool            `json:"free"`
	Remaining     *int            `json:"remaining,omitempty"`
	LimitPerOrder *int            `json:"limit_per_order,omitempty"`
	MaxSelectable *int            `json:"max_selectable,omitempty"`
	FormID        string          `json:"form_id,omitempty"`
	FormTitle     string          `json:"form_title,omitempty"`
	Selected      int             `json:"selected"`
}

// SelectionView is the response body of every selection endpoint
type SelectionView struct {
	EventID    string           `json:"event_id"`
	EventTitle string           `json:"event_title"`
	Image      string           `json:"image,omitempty"`
	Tickets    []TicketView     `json:"tickets"`
	Totals     inventory.Totals `json:"totals"`
	Warnings   []string         `json:"warnings,omitempty"`
}

func optional(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}

func newSelectionView(sel *inventory.Selection) SelectionView {
	event := sel.Event()
	view := SelectionView{
		EventID:    event.ID,
		EventTitle: event.Title,
		Image:      event.Image,
		Tickets:    make([]TicketView, 0, len(event.Tickets)),
		Totals:     sel.Totals(),
	}
	for i := range event.Tickets {
		tt := &event.Tickets[i]
		view.Tickets = append(view.Tickets, TicketView{
			ID:            tt.ID,
			Name:          tt.Name,
			Description:   tt.Description,
			Price:         tt.Price,
			Free:          tt.IsFree(),
			Remaining:     optional(tt.Remaining()),
			LimitPerOrder: optional(tt.Limit()),
			MaxSelectable: optional(tt.MaxSelectable()),
			FormID:        tt.FormID,
			FormTitle:     tt.FormTitle,
			Selected:      sel.Quantity(tt.ID),
		})
	}
	return view
}

func (h *TicketHandler) session(r *http.Request) *Session {
	return h.registry.Get(r.Context(), middleware.GetCartID(r.Context()))
}

// GetTickets returns the event's ticket catalog with the buyer's selection
func (h *TicketHandler) GetTickets(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	s := h.session(r)

	if r.URL.Query().Get("refresh") == "true" {
		s.DropSelection(eventID)
	}

	var view SelectionView
	err := s.WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		view = newSelectionView(sel)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SelectionRequest sets selected quantities and, when PromoCode is present,
// applies it ("" clears the applied code)
type SelectionRequest struct {
	Quantities map[string]int `json:"quantities"`
	PromoCode  *string        `json:"promo_code,omitempty"`
}

// UpdateSelection sets quantities and the promo code in one call. Refusals
// are reported as warnings next to the resulting selection.
func (h *TicketHandler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req SelectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var view SelectionView
	err := h.session(r).WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		// Reject the whole request before changing any counter
		for ticketID, n := range req.Quantities {
			if !sel.HasTicket(ticketID) {
				return fmt.Errorf("%w: %s", models.ErrTicketTypeNotFound, ticketID)
			}
			if n > inventory.MaxQuantity {
				return fmt.Errorf("%w: at most %d tickets of one type", models.ErrInvalidInput, inventory.MaxQuantity)
			}
		}

		var warnings []string
		for ticketID, n := range req.Quantities {
			if err := sel.SetQuantity(ticketID, n); err != nil {
				warnings = append(warnings, err.Error())
			}
		}

		if req.PromoCode != nil {
			if *req.PromoCode == "" {
				sel.ClearPromo()
			} else if _, err := sel.ApplyPromo(*req.PromoCode); err != nil {
				warnings = append(warnings, err.Error())
			}
		}

		view = newSelectionView(sel)
		view.Warnings = warnings
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Increment selects one more ticket of a type
func (h *TicketHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(sel *inventory.Selection, ticketID string) error {
		return sel.Increment(ticketID)
	})
}

// Decrement deselects one ticket of a type
func (h *TicketHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(sel *inventory.Selection, ticketID string) error {
		if !sel.HasTicket(ticketID) {
			return models.ErrTicketTypeNotFound
		}
		sel.Decrement(ticketID)
		return nil
	})
}

func (h *TicketHandler) step(w http.ResponseWriter, r *http.Request, fn func(*inventory.Selection, string) error) {
	eventID := chi.URLParam(r, "eventID")
	ticketID := chi.URLParam(r, "ticketID")

	var view SelectionView
	err := h.session(r).WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		if err := fn(sel, ticketID); err != nil {
			return err
		}
		view = newSelectionView(sel)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PromoRequest is the body of ApplyPromo
type PromoRequest struct {
	Code string `json:"code"`
}

// PromoResponse reports an applied code and the selection after applying it
type PromoResponse struct {
	Promo     inventory.PromoApplication `json:"promo"`
	Selection SelectionView              `json:"selection"`
}

// ApplyPromo applies a promo code to the current selection
func (h *TicketHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req PromoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var resp PromoResponse
	err := h.session(r).WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		promo, err := sel.ApplyPromo(req.Code)
		if err != nil {
			return err
		}
		resp = PromoResponse{Promo: promo, Selection: newSelectionView(sel)}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearPromo removes the applied promo code
func (h *TicketHandler) ClearPromo(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var view SelectionView
	err := h.session(r).WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		sel.ClearPromo()
		view = newSelectionView(sel)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AddToCartResponse reports a transfer from selection to cart
type AddToCartResponse struct {
	Added int      `json:"added"`
	Cart  CartView `json:"cart"`
}

// AddToCart moves the selection into the cart
func (h *TicketHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	s := h.session(r)

	var added int
	err := s.WithSelection(r.Context(), h.events, eventID, func(sel *inventory.Selection) error {
		n, err := sel.AddToCart(s.Cart)
		added = n
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.Info("tickets added to cart",
		zap.String("event_id", eventID),
		zap.Int("quantity", added),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeJSON(w, http.StatusCreated, AddToCartResponse{Added: added, Cart: newCartView(s.Cart)})
}
