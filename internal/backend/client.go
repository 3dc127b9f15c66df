// Package backend is the HTTP client for the remote Eventure API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eventure-checkout/internal/models"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// Config represents backend client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the backend
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`

	body []byte
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend error: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Eventure API
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a new backend client
func NewClient(config Config, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("backend"),
	}
}

// GetEvent fetches an event with its ticket catalog
func (c *Client) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	status, err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventID), "", nil, &event)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event.ID == "" {
		event.ID = eventID
	}
	return &event, nil
}

// CreateRegistration reserves one cart line. bearer is the buyer's token and
// may be empty for guest checkout.
func (c *Client) CreateRegistration(ctx context.Context, req models.RegistrationRequest, bearer string) (*models.Registration, error) {
	var reg models.Registration
	if _, err := c.do(ctx, http.MethodPost, "/registrations", bearer, req, &reg); err != nil {
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}
	if reg.ID == "" {
		return nil, models.ErrMissingRegistrationID
	}
	return &reg, nil
}

// ConfirmPayment settles a pending registration
func (c *Client) ConfirmPayment(ctx context.Context, registrationID, bearer string) error {
	path := "/registrations/" + url.PathEscape(registrationID) + "/confirm_payment"
	if _, err := c.do(ctx, http.MethodPost, path, bearer, nil, nil); err != nil {
		return fmt.Errorf("failed to confirm payment for %s: %w", registrationID, err)
	}
	return nil
}

// CancelRegistration releases a registration that will never be confirmed
func (c *Client) CancelRegistration(ctx context.Context, registrationID, bearer string) error {
	path := "/registrations/" + url.PathEscape(registrationID) + "/cancel"
	if _, err := c.do(ctx, http.MethodPost, path, bearer, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel registration %s: %w", registrationID, err)
	}
	return nil
}

type validateRequest struct {
	QRToken string `json:"qr_token"`
	EventID string `json:"event_id,omitempty"`
}

// ValidateTicket submits a scanned code on behalf of the scanning organizer,
// whose bearer token lets the backend check they own the event. A 4xx answer
// whose body still reads as a validation response is returned as that
// (invalid) response; server errors and transport failures are returned as
// errors.
func (c *Client) ValidateTicket(ctx context.Context, qrToken, eventID, bearer string) (*models.ValidationResponse, error) {
	var resp models.ValidationResponse
	status, err := c.do(ctx, http.MethodPost, "/tickets/validate", bearer, validateRequest{QRToken: qrToken, EventID: eventID}, &resp)
	if err == nil {
		return &resp, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && status >= 400 && status < 500 {
		var invalid models.ValidationResponse
		if json.Unmarshal(apiErr.body, &invalid) != nil {
			invalid.Message = apiErr.Message
		}
		invalid.Valid = false
		return &invalid, nil
	}
	return nil, fmt.Errorf("failed to validate ticket: %w", err)
}

// do sends a JSON request and decodes a 2xx body into out. Non-2xx answers
// come back as *APIError along with the status code.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if err := json.Unmarshal(data, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.StatusCode = resp.StatusCode
	apiErr.body = data
	return apiErr
}
