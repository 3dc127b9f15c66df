package handlers

import (
	"fmt"
	"net/http"

	"eventure-checkout/internal/cart"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/models"

	"github.com/shopspring/decimal"
)

// CartHandler handles shopping cart requests
type CartHandler struct {
	registry *Registry
}

// NewCartHandler creates a new cart handler
func NewCartHandler(registry *Registry) *CartHandler {
	return &CartHandler{registry: registry}
}

// CartView is the JSON form of a cart
type CartView struct {
	Lines      []models.CartLine `json:"lines"`
	TotalItems int               `json:"total_items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	Open       bool              `json:"open"`
}

func newCartView(c *cart.Store) CartView {
	return CartView{
		Lines:      c.Lines(),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
		Open:       c.IsOpen(),
	}
}

func (h *CartHandler) cart(r *http.Request) *cart.Store {
	return h.registry.Get(r.Context(), middleware.GetCartID(r.Context())).Cart
}

// GetCart returns the cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCartView(h.cart(r)))
}

// AddItemRequest is a purchasable added straight to the cart, typically
// merchandise
type AddItemRequest struct {
	ID         string          `json:"id"`
	Variant    string          `json:"variant,omitempty"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Image      string          `json:"image,omitempty"`
	Kind       models.LineKind `json:"kind,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	TicketType string          `json:"ticket_type,omitempty"`
}

// AddItem adds a line, merging with an existing line of the same key
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = models.LineMerch
		if req.EventID != "" {
			kind = models.LineTicket
		}
	}

	line := models.CartLine{
		Key:        models.LineKey{ID: req.ID, Variant: req.Variant},
		Name:       req.Name,
		UnitPrice:  req.UnitPrice,
		Quantity:   max(req.Quantity, 1),
		Image:      req.Image,
		Kind:       kind,
		EventID:    req.EventID,
		TicketType: req.TicketType,
	}
	if err := line.Validate(); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}

	c := h.cart(r)
	c.Add(line, req.Quantity)
	writeJSON(w, http.StatusCreated, newCartView(c))
}

// UpdateItemRequest sets a line's quantity; below 1 removes the line
type UpdateItemRequest struct {
	ID       string `json:"id"`
	Variant  string `json:"variant,omitempty"`
	Quantity int    `json:"quantity"`
}

// UpdateItem changes the quantity of a line
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := h.cart(r)
	key := models.LineKey{ID: req.ID, Variant: req.Variant}
	if _, ok := c.Line(key); !ok {
		writeError(w, r, fmt.Errorf("%w: %s", models.ErrLineNotFound, key))
		return
	}

	c.SetQuantity(key, req.Quantity)
	writeJSON(w, http.StatusOK, newCartView(c))
}

// RemoveItem deletes the line identified by the id and variant query
// parameters
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	key := models.LineKey{
		ID:      r.URL.Query().Get("id"),
		Variant: r.URL.Query().Get("variant"),
	}
	if key.ID == "" {
		writeError(w, r, fmt.Errorf("%w: id is required", models.ErrInvalidInput))
		return
	}

	c := h.cart(r)
	if _, ok := c.Line(key); !ok {
		writeError(w, r, fmt.Errorf("%w: %s", models.ErrLineNotFound, key))
		return
	}

	c.Remove(key)
	writeJSON(w, http.StatusOK, newCartView(c))
}

// ClearCart empties the cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c := h.cart(r)
	c.Clear()
	writeJSON(w, http.StatusOK, newCartView(c))
}

// PresentationRequest opens or closes the cart drawer
type PresentationRequest struct {
	Open bool `json:"open"`
}

// SetPresentation sets whether the cart is shown
func (h *CartHandler) SetPresentation(w http.ResponseWriter, r *http.Request) {
	var req PresentationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := h.cart(r)
	c.SetOpen(req.Open)
	writeJSON(w, http.StatusOK, newCartView(c))
}
