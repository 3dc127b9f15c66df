// Package checkin classifies scanned ticket codes at the door.
package checkin

import (
	"context"
	"strings"
	"sync"
	"time"

	"eventure-checkout/internal/models"

	"go.uber.org/zap"
)

// RecentLimit caps the history returned by Recent
const RecentLimit = 10

// ErrBusy is returned for a scan submitted while another is validating
var ErrBusy = models.ErrScanInProgress

// State is the machine's display state
type State string

const (
	StateIdle           State = "idle"
	StateProcessing     State = "processing"
	StateSuccess        State = State(models.ScanSuccess)
	StateAlreadyScanned State = State(models.ScanAlreadyScanned)
	StateError          State = State(models.ScanError)
)

const (
	defaultAttendee   = "Attendee"
	unknownAttendee   = "Unknown"
	defaultTicketType = "Standard"
	transportFailure  = "Failed to validate ticket"
)

// Validator checks a ticket code with the backend. bearer is the scanning
// organizer's token.
type Validator interface {
	ValidateTicket(ctx context.Context, qrToken, eventID, bearer string) (*models.ValidationResponse, error)
}

// Options scope a machine to one event
type Options struct {
	EventID    string
	EventTitle string
}

// Machine serializes scans: a code submitted while another is validating is
// dropped, not queued.
type Machine struct {
	mu        sync.Mutex
	validator Validator
	opts      Options
	state     State
	current   *models.ScanResult
	history   []models.ScanResult // most recent first
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine creates a new check-in machine in the idle state
func NewMachine(validator Validator, opts Options, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		validator: validator,
		opts:      opts,
		state:     StateIdle,
		logger:    logger.Named("checkin"),
		now:       time.Now,
	}
}

// Submit validates code exactly once, as the organizer holding bearer, and
// records the classified result. Validation failures are reported through the
// result, not the error.
func (m *Machine) Submit(ctx context.Context, code, bearer string) (models.ScanResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.ScanResult{}, models.ErrEmptyCode
	}

	m.mu.Lock()
	if m.state == StateProcessing {
		m.mu.Unlock()
		m.logger.Debug("scan dropped while processing", zap.String("code", code))
		return models.ScanResult{}, ErrBusy
	}
	m.state = StateProcessing
	m.current = nil
	m.mu.Unlock()

	resp, err := m.validator.ValidateTicket(ctx, code, m.opts.EventID, bearer)
	result := m.classify(code, resp, err)

	m.mu.Lock()
	m.history = append([]models.ScanResult{result}, m.history...)
	m.current = &result
	m.state = State(result.Status)
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("code", code),
		zap.String("status", string(result.Status)),
		zap.String("ticket_id", result.TicketID),
	}
	switch {
	case err != nil:
		m.logger.Warn("ticket validation failed", append(fields, zap.Error(err))...)
	case result.Status == models.ScanSuccess:
		m.logger.Info("ticket checked in", fields...)
	default:
		m.logger.Info("ticket rejected", append(fields, zap.String("message", result.Message))...)
	}

	return result, nil
}

func (m *Machine) classify(code string, resp *models.ValidationResponse, err error) models.ScanResult {
	result := models.ScanResult{
		Code:       code,
		EventTitle: m.opts.EventTitle,
		ScannedAt:  m.now(),
	}

	if err != nil || resp == nil {
		result.Status = models.ScanError
		result.AttendeeName = "Error"
		result.Message = transportFailure
		return result
	}

	result.Status = resp.Classify()
	result.Message = resp.Message
	result.TicketID = resp.TicketID
	result.TicketType = resp.TicketType
	result.AttendeeName = resp.AttendeeName

	if result.Status == models.ScanSuccess {
		if result.TicketID == "" {
			result.TicketID = code
		}
		if result.TicketType == "" {
			result.TicketType = defaultTicketType
		}
		if result.AttendeeName == "" {
			result.AttendeeName = defaultAttendee
		}
	} else if result.AttendeeName == "" {
		result.AttendeeName = unknownAttendee
	}
	return result
}

// Reset returns a terminal state to idle. It has no effect while processing.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateProcessing {
		return
	}
	m.state = StateIdle
	m.current = nil
}

// State returns the current display state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the result on display, if any
func (m *Machine) Current() (models.ScanResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.ScanResult{}, false
	}
	return *m.current, true
}

// Recent returns up to RecentLimit results, most recent first
func (m *Machine) Recent() []models.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(len(m.history), RecentLimit)
	out := make([]models.ScanResult, n)
	copy(out, m.history[:n])
	return out
}

// History returns every recorded result, most recent first
func (m *Machine) History() []models.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ScanResult, len(m.history))
	copy(out, m.history)
	return out
}

// CheckedIn counts successful scans
func (m *Machine) CheckedIn() int {
	return m.count(models.ScanSuccess)
}

// Duplicates counts scans of tickets that were already used
func (m *Machine) Duplicates() int {
	return m.count(models.ScanAlreadyScanned)
}

// Failures counts scans classified as errors
func (m *Machine) Failures() int {
	return m.count(models.ScanError)
}

func (m *Machine) count(status models.ScanStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.history {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Stats is a snapshot of the counters
type Stats struct {
	State      State `json:"state"`
	CheckedIn  int   `json:"checked_in"`
	Duplicates int   `json:"duplicates"`
	Failures   int   `json:"failures"`
	Total      int   `json:"total"`
}

// Stats returns the counters in one consistent read
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{State: m.state, Total: len(m.history)}
	for _, r := range m.history {
		switch r.Status {
		case models.ScanSuccess:
			stats.CheckedIn++
		case models.ScanAlreadyScanned:
			stats.Duplicates++
		default:
			stats.Failures++
		}
	}
	return stats
}
