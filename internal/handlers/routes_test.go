package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/backend"
	"eventure-checkout/internal/checkin"
	"eventure-checkout/internal/checkout"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/models"
	"eventure-checkout/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEvents struct {
	events map[string]models.Event
}

func (f *fakeEvents) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	ev, ok := f.events[eventID]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	return &ev, nil
}

// fakeBackend records reserve/confirm traffic and validates ticket codes
type fakeBackend struct {
	mu        sync.Mutex
	requests  []models.RegistrationRequest
	bearers   []string
	confirmed []string
	failEvent string
	used      map[string]bool
	scanners  []string
}

func (f *fakeBackend) CreateRegistration(_ context.Context, req models.RegistrationRequest, bearer string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.EventID == f.failEvent {
		return nil, errors.New("registration rejected")
	}
	f.requests = append(f.requests, req)
	f.bearers = append(f.bearers, bearer)
	return &models.Registration{ID: "reg-" + req.EventID, Status: models.RegistrationPending}, nil
}

func (f *fakeBackend) ConfirmPayment(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeBackend) CancelRegistration(context.Context, string, string) error {
	return nil
}

// ValidateTicket only lets the event's organizer check tickets in
func (f *fakeBackend) ValidateTicket(_ context.Context, code, _, bearer string) (*models.ValidationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanners = append(f.scanners, bearer)
	if bearer != "organizer" {
		return &models.ValidationResponse{Message: "Unauthorized - not event organizer"}, nil
	}
	if f.used[code] {
		return &models.ValidationResponse{Message: "Ticket already used"}, nil
	}
	f.used[code] = true
	return &models.ValidationResponse{Valid: true, TicketID: code, TicketType: "VIP"}, nil
}

func (f *fakeBackend) failFor(eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failEvent = eventID
}

func (f *fakeBackend) scanBearers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scanners...)
}

func (f *fakeBackend) calls() (requests []models.RegistrationRequest, bearers, confirmed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(requests, f.requests...), append(bearers, f.bearers...), append(confirmed, f.confirmed...)
}

type staticVerifier map[string]*auth.Identity

func (v staticVerifier) Verify(token string) (*auth.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidToken
}

type testAPI struct {
	t       *testing.T
	server  *httptest.Server
	client  *http.Client
	backend *fakeBackend
	token   string
}

var testIdentities = staticVerifier{
	"organizer": {UserID: "org-1", Name: "Org", Token: "organizer"},
	"buyer":     {UserID: "u-7", Name: "Buyer", Token: "buyer"},
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithValidator(t, nil)
}

// newTestAPIWithValidator builds the router with scanner validating through
// v, or through the fake backend when v is nil.
func newTestAPIWithValidator(t *testing.T, v checkin.Validator) *testAPI {
	t.Helper()

	events := &fakeEvents{events: map[string]models.Event{
		"ev1": {
			ID:    "ev1",
			Title: "Summer Fest",
			Tickets: []models.TicketType{
				{
					ID: "vip", Name: "VIP", Price: decimal.NewFromInt(100),
					Quantity: models.IntOf(3), LimitPerOrder: models.IntOf(2),
					Discounts: []models.DiscountDefinition{{Code: "EARLY20", Amount: decimal.NewFromInt(20), Kind: models.DiscountPercent}},
				},
				{ID: "ga", Name: "General", Price: decimal.NewFromInt(40)},
			},
		},
	}}
	fake := &fakeBackend{used: map[string]bool{}}
	logger := zap.NewNop()
	if v == nil {
		v = fake
	}

	registry := NewRegistry(storage.NewMemoryStore(), fake, RegistryOptions{Checkout: checkout.Options{ReleaseOnFailure: true}}, logger)
	cookies, err := middleware.NewCookieStore("0123456789abcdef0123456789abcdef", false)
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	router := NewRouter(Dependencies{
		Events:      events,
		Registry:    registry,
		CheckIn:     checkin.NewMachine(v, checkin.Options{EventID: "ev1"}, logger),
		Verifier:    testIdentities,
		Sessions:    cookies,
		ScanLimiter: limiter,
		CORS:        middleware.DefaultCORSConfig(),
		Logger:      logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testAPI{t: t, server: srv, client: &http.Client{Jar: jar}, backend: fake}
}

func (a *testAPI) do(method, path string, body interface{}, out interface{}) int {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_SelectionToCheckout(t *testing.T) {
	api := newTestAPI(t)

	var view SelectionView
	require.Equal(t, http.StatusOK, api.do("GET", "/events/ev1/tickets", nil, &view))
	require.Len(t, view.Tickets, 2)
	assert.Equal(t, 2, *view.Tickets[0].MaxSelectable)
	assert.Nil(t, view.Tickets[1].MaxSelectable)

	// The per-order limit caps the request at 2
	code := "early20"
	status := api.do("POST", "/events/ev1/selection", SelectionRequest{
		Quantities: map[string]int{"vip": 5},
		PromoCode:  &code,
	}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, view.Tickets[0].Selected)
	assert.Len(t, view.Warnings, 1)
	assert.Equal(t, "EARLY20", view.Totals.Code)
	assert.True(t, decimal.NewFromInt(40).Equal(view.Totals.Discount))
	assert.True(t, decimal.NewFromInt(160).Equal(view.Totals.Net))

	var errBody middleware.ErrorResponse
	assert.Equal(t, http.StatusConflict, api.do("POST", "/events/ev1/selection/vip/increment", nil, &errBody))
	assert.Contains(t, errBody.Error, "limit")

	var added AddToCartResponse
	require.Equal(t, http.StatusCreated, api.do("POST", "/events/ev1/cart", nil, &added))
	assert.Equal(t, 2, added.Added)
	require.Len(t, added.Cart.Lines, 1)
	assert.True(t, decimal.NewFromInt(80).Equal(added.Cart.Lines[0].UnitPrice))
	assert.True(t, added.Cart.Open)

	// Selection was reset
	var refreshed SelectionView
	require.Equal(t, http.StatusOK, api.do("GET", "/events/ev1/tickets", nil, &refreshed))
	assert.Equal(t, 0, refreshed.Totals.Quantity)
	assert.Empty(t, refreshed.Totals.Code)
	assert.Equal(t, 0, refreshed.Tickets[0].Selected)

	var conf models.OrderConfirmation
	require.Equal(t, http.StatusCreated, api.do("POST", "/checkout", CheckoutRequest{
		PaymentMethod: models.PaymentCard,
		Guest:         models.GuestContact{Name: "Karim", Email: "karim@example.com"},
	}, &conf))
	assert.Equal(t, []string{"reg-ev1"}, conf.RegistrationIDs)
	assert.True(t, decimal.NewFromInt(160).Equal(conf.TotalAmount))

	requests, _, confirmed := api.backend.calls()
	require.Len(t, requests, 1)
	assert.Equal(t, "VIP", requests[0].TicketType)
	assert.Equal(t, 2, requests[0].Quantity)
	assert.Equal(t, "Card", requests[0].PaymentMethod)
	assert.Equal(t, "karim@example.com", requests[0].GuestEmail)
	assert.Equal(t, []string{"reg-ev1"}, confirmed)

	var cartView CartView
	require.Equal(t, http.StatusOK, api.do("GET", "/cart", nil, &cartView))
	assert.Empty(t, cartView.Lines)
}

func TestAPI_SelectionErrors(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, api.do("GET", "/events/missing/tickets", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("POST", "/events/ev1/selection/nope/increment", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("POST", "/events/ev1/selection/nope/decrement", nil, nil))

	var view SelectionView
	require.Equal(t, http.StatusOK, api.do("POST", "/events/ev1/selection/ga/increment", nil, &view))
	require.Equal(t, http.StatusOK, api.do("POST", "/events/ev1/selection/ga/decrement", nil, &view))
	require.Equal(t, http.StatusOK, api.do("POST", "/events/ev1/selection/ga/decrement", nil, &view))
	assert.Equal(t, 0, view.Tickets[1].Selected, "decrement floors at zero")
	assert.Equal(t, http.StatusUnprocessableEntity, api.do("POST", "/events/ev1/cart", nil, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, api.do("POST", "/events/ev1/promo", PromoRequest{Code: "EARLY20"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/events/ev1/promo", PromoRequest{Code: " "}, nil))
}

func TestAPI_SelectionRejectsHugeQuantity(t *testing.T) {
	api := newTestAPI(t)

	var view SelectionView
	require.Equal(t, http.StatusOK, api.do("POST", "/events/ev1/selection", SelectionRequest{
		Quantities: map[string]int{"ga": 3},
	}, &view))
	require.Equal(t, 3, view.Tickets[1].Selected)

	var errBody middleware.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/events/ev1/selection", SelectionRequest{
		Quantities: map[string]int{"vip": 1, "ga": 2_000_000_000},
	}, &errBody))
	assert.Contains(t, errBody.Error, "invalid input")

	// Nothing from the rejected request was applied
	var after SelectionView
	require.Equal(t, http.StatusOK, api.do("GET", "/events/ev1/tickets", nil, &after))
	assert.Equal(t, 0, after.Tickets[0].Selected)
	assert.Equal(t, 3, after.Tickets[1].Selected)

	assert.Equal(t, http.StatusNotFound, api.do("POST", "/events/ev1/selection", SelectionRequest{
		Quantities: map[string]int{"nope": 1},
	}, nil))
}

func TestAPI_CartItems(t *testing.T) {
	api := newTestAPI(t)

	shirt := func(size string) AddItemRequest {
		return AddItemRequest{ID: "shirt", Variant: size, Name: "Fest Shirt", UnitPrice: decimal.NewFromInt(15), Quantity: 1}
	}

	var view CartView
	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", shirt("M"), &view))
	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", shirt("L"), &view))
	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", shirt("M"), &view))
	require.Len(t, view.Lines, 2)
	assert.Equal(t, 3, view.TotalItems)
	assert.Equal(t, models.LineMerch, view.Lines[0].Kind)

	require.Equal(t, http.StatusOK, api.do("PATCH", "/cart/items", UpdateItemRequest{ID: "shirt", Variant: "L", Quantity: 4}, &view))
	assert.Equal(t, 6, view.TotalItems)

	// Removing one variant leaves the other
	require.Equal(t, http.StatusOK, api.do("DELETE", "/cart/items?id=shirt&variant=M", nil, &view))
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "L", view.Lines[0].Key.Variant)

	assert.Equal(t, http.StatusNotFound, api.do("DELETE", "/cart/items?id=shirt&variant=M", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("PATCH", "/cart/items", UpdateItemRequest{ID: "mug", Quantity: 2}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/cart/items", AddItemRequest{Name: "no id"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/cart/items", AddItemRequest{ID: "x", UnitPrice: decimal.NewFromInt(-1)}, nil))

	require.Equal(t, http.StatusOK, api.do("PATCH", "/cart", PresentationRequest{Open: false}, &view))
	assert.False(t, view.Open)

	// Merch-only checkout succeeds without touching the backend
	var conf models.OrderConfirmation
	require.Equal(t, http.StatusCreated, api.do("POST", "/checkout", CheckoutRequest{
		PaymentMethod: models.PaymentBkash,
		Guest:         models.GuestContact{Name: "Karim", Email: "karim@example.com"},
	}, &conf))
	assert.Empty(t, conf.RegistrationIDs)
	requests, _, _ := api.backend.calls()
	assert.Empty(t, requests)

	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", shirt("S"), &view))
	require.Equal(t, http.StatusOK, api.do("DELETE", "/cart", nil, &view))
	assert.Empty(t, view.Lines)
}

func TestAPI_CheckoutErrors(t *testing.T) {
	api := newTestAPI(t)
	guest := models.GuestContact{Name: "Karim", Email: "karim@example.com"}

	assert.Equal(t, http.StatusUnprocessableEntity, api.do("POST", "/checkout", CheckoutRequest{PaymentMethod: models.PaymentCard, Guest: guest}, nil))

	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", AddItemRequest{
		ID: "ev2_VIP", Variant: "VIP", Name: "Other - VIP", UnitPrice: decimal.NewFromInt(10), EventID: "ev2", TicketType: "VIP",
	}, nil))

	assert.Equal(t, http.StatusUnprocessableEntity, api.do("POST", "/checkout", CheckoutRequest{Guest: guest}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, api.do("POST", "/checkout", CheckoutRequest{PaymentMethod: models.PaymentCard}, nil))

	api.backend.failFor("ev2")
	var errBody CheckoutErrorResponse
	assert.Equal(t, http.StatusBadGateway, api.do("POST", "/checkout", CheckoutRequest{PaymentMethod: models.PaymentCard, Guest: guest}, &errBody))
	require.NotNil(t, errBody.Line)
	assert.Equal(t, "ev2", errBody.Line.EventID)

	var view CartView
	require.Equal(t, http.StatusOK, api.do("GET", "/cart", nil, &view))
	assert.Len(t, view.Lines, 1)

	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/checkout", map[string]string{"unknown": "x"}, nil))
}

func TestAPI_SignedInCheckoutForwardsToken(t *testing.T) {
	api := newTestAPI(t)
	api.token = "organizer"

	require.Equal(t, http.StatusCreated, api.do("POST", "/cart/items", AddItemRequest{
		ID: "ev1_VIP", Variant: "VIP", Name: "Summer Fest - VIP", UnitPrice: decimal.NewFromInt(100), EventID: "ev1", TicketType: "VIP",
	}, nil))

	var conf models.OrderConfirmation
	require.Equal(t, http.StatusCreated, api.do("POST", "/checkout", CheckoutRequest{PaymentMethod: models.PaymentNagad}, &conf))
	assert.Equal(t, "Org", conf.BuyerName)
	requests, bearers, _ := api.backend.calls()
	assert.Equal(t, []string{"organizer"}, bearers)
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].GuestEmail)
}

func TestAPI_CartIsPerSession(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated, a.do("POST", "/cart/items", AddItemRequest{ID: "mug", Name: "Mug", UnitPrice: decimal.NewFromInt(5)}, nil))

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &testAPI{t: t, server: a.server, client: &http.Client{Jar: jar}, backend: a.backend}

	var view CartView
	require.Equal(t, http.StatusOK, other.do("GET", "/cart", nil, &view))
	assert.Empty(t, view.Lines)

	require.Equal(t, http.StatusOK, a.do("GET", "/cart", nil, &view))
	assert.Len(t, view.Lines, 1)
}

func TestAPI_CheckIn(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do("GET", "/checkin", nil, nil))

	api.token = "organizer"

	var result models.ScanResult
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-1"}, &result))
	assert.Equal(t, models.ScanSuccess, result.Status)

	var view CheckInView
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/reset", nil, &view))
	assert.Equal(t, checkin.StateIdle, view.State)
	assert.Nil(t, view.Current)

	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-1"}, &result))
	assert.Equal(t, models.ScanAlreadyScanned, result.Status)

	require.Equal(t, http.StatusOK, api.do("GET", "/checkin", nil, &view))
	assert.Equal(t, checkin.StateAlreadyScanned, view.State)
	require.NotNil(t, view.Current)
	assert.Len(t, view.Recent, 2)
	assert.Equal(t, 1, view.Stats.CheckedIn)
	assert.Equal(t, 1, view.Stats.Duplicates)

	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/checkin/scans", ScanRequest{Code: " "}, nil))
}

func TestAPI_CheckInUsesScannerToken(t *testing.T) {
	api := newTestAPI(t)

	// A signed-in buyer reaches the scanner but the backend refuses them
	api.token = "buyer"
	var result models.ScanResult
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-9"}, &result))
	assert.Equal(t, models.ScanError, result.Status)
	assert.Equal(t, "Unauthorized - not event organizer", result.Message)

	// The refused scan did not use up the ticket
	api.token = "organizer"
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/reset", nil, nil))
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-9"}, &result))
	assert.Equal(t, models.ScanSuccess, result.Status)

	assert.Equal(t, []string{"buyer", "organizer"}, api.backend.scanBearers())
}

func TestAPI_CheckInAuthorizationHeaderUpstream(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer organizer" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "Unauthorized - not event organizer"}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid": true, "ticket_id": "QR-1"}`))
	}))
	t.Cleanup(upstream.Close)

	api := newTestAPIWithValidator(t, backend.NewClient(backend.Config{BaseURL: upstream.URL, Timeout: 5 * time.Second}, nil))

	var result models.ScanResult
	api.token = "buyer"
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-1"}, &result))
	assert.Equal(t, models.ScanError, result.Status)

	api.token = "organizer"
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/reset", nil, nil))
	require.Equal(t, http.StatusOK, api.do("POST", "/checkin/scans", ScanRequest{Code: "QR-1"}, &result))
	assert.Equal(t, models.ScanSuccess, result.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer buyer", "Bearer organizer"}, headers)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{auth.ErrMissingToken, http.StatusUnauthorized},
		{models.ErrEventNotFound, http.StatusNotFound},
		{models.ErrSoldOut, http.StatusConflict},
		{models.ErrScanInProgress, http.StatusConflict},
		{models.ErrGuestDetailsRequired, http.StatusUnprocessableEntity},
		{&checkout.ConfirmationError{RegistrationID: "r", Err: errors.New("x")}, http.StatusBadGateway},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAPI_HealthAndNotFound(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, api.do("GET", "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, http.StatusNotFound, api.do("GET", "/nope", nil, nil))
}
