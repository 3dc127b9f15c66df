package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventure-checkout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBackend marks a ticket used on its first successful validation
type fakeBackend struct {
	mu      sync.Mutex
	used    map[string]bool
	calls   atomic.Int32
	eventID string
	bearer  string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{used: map[string]bool{"T-1": false, "T-2": false}}
}

func (f *fakeBackend) ValidateTicket(_ context.Context, qrToken, eventID, bearer string) (*models.ValidationResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventID = eventID
	f.bearer = bearer

	used, ok := f.used[qrToken]
	switch {
	case !ok:
		return &models.ValidationResponse{Valid: false, Message: "Invalid ticket"}, nil
	case used:
		return &models.ValidationResponse{Valid: false, Message: "Ticket already used"}, nil
	}
	f.used[qrToken] = true
	return &models.ValidationResponse{Valid: true, Message: "Ticket validated successfully", TicketID: qrToken, TicketType: "VIP"}, nil
}

type validatorFunc func(ctx context.Context, qrToken, eventID, bearer string) (*models.ValidationResponse, error)

func (f validatorFunc) ValidateTicket(ctx context.Context, qrToken, eventID, bearer string) (*models.ValidationResponse, error) {
	return f(ctx, qrToken, eventID, bearer)
}

func TestMachine_Idempotency(t *testing.T) {
	backend := newFakeBackend()
	m := NewMachine(backend, Options{EventID: "ev1", EventTitle: "Summer Fest"}, zap.NewNop())
	ctx := context.Background()

	first, err := m.Submit(ctx, "T-1", "org-token")
	require.NoError(t, err)
	assert.Equal(t, models.ScanSuccess, first.Status)
	assert.Equal(t, "VIP", first.TicketType)
	assert.Equal(t, "Summer Fest", first.EventTitle)
	assert.Equal(t, StateSuccess, m.State())
	assert.Equal(t, "ev1", backend.eventID)
	assert.Equal(t, "org-token", backend.bearer)

	m.Reset()
	assert.Equal(t, StateIdle, m.State())

	second, err := m.Submit(ctx, "T-1", "org-token")
	require.NoError(t, err)
	assert.Equal(t, models.ScanAlreadyScanned, second.Status)
	assert.Equal(t, StateAlreadyScanned, m.State())

	assert.Equal(t, 1, m.CheckedIn())
	assert.Equal(t, 1, m.Duplicates())
	assert.Equal(t, 0, m.Failures())

	recent := m.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, models.ScanAlreadyScanned, recent[0].Status)
	assert.Equal(t, models.ScanSuccess, recent[1].Status)
}

func TestMachine_ConcurrentScanSuppression(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	m := NewMachine(validatorFunc(func(context.Context, string, string, string) (*models.ValidationResponse, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return &models.ValidationResponse{Valid: true}, nil
	}), Options{}, nil)

	firstDone := make(chan models.ScanResult, 1)
	go func() {
		res, err := m.Submit(context.Background(), "T-1", "org-token")
		assert.NoError(t, err)
		firstDone <- res
	}()
	<-entered
	assert.Equal(t, StateProcessing, m.State())

	const detections = 8
	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < detections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Submit(context.Background(), "T-1", "org-token"); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()

	close(release)
	res := <-firstDone

	assert.Equal(t, models.ScanSuccess, res.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(detections), busy.Load())
	assert.Len(t, m.History(), 1)
}

func TestMachine_Classification(t *testing.T) {
	tests := []struct {
		name         string
		resp         *models.ValidationResponse
		err          error
		wantStatus   models.ScanStatus
		wantAttendee string
		wantMessage  string
	}{
		{
			name:         "valid with attendee",
			resp:         &models.ValidationResponse{Valid: true, TicketID: "TK-9", AttendeeName: "Nadia"},
			wantStatus:   models.ScanSuccess,
			wantAttendee: "Nadia",
		},
		{
			name:         "valid without details",
			resp:         &models.ValidationResponse{Valid: true},
			wantStatus:   models.ScanSuccess,
			wantAttendee: "Attendee",
		},
		{
			name:         "message says already used",
			resp:         &models.ValidationResponse{Message: "Ticket ALREADY USED"},
			wantStatus:   models.ScanAlreadyScanned,
			wantAttendee: "Unknown",
			wantMessage:  "Ticket ALREADY USED",
		},
		{
			name:       "structured status wins over message",
			resp:       &models.ValidationResponse{Status: "already_used", Message: "Duplicate entry"},
			wantStatus: models.ScanAlreadyScanned,
		},
		{
			name:       "structured non-duplicate status ignores message",
			resp:       &models.ValidationResponse{Status: "cancelled", Message: "already used or cancelled"},
			wantStatus: models.ScanError,
		},
		{
			name:        "different event",
			resp:        &models.ValidationResponse{Message: "Ticket is for a different event"},
			wantStatus:  models.ScanError,
			wantMessage: "Ticket is for a different event",
		},
		{
			name:         "transport failure",
			err:          errors.New("connection refused"),
			wantStatus:   models.ScanError,
			wantAttendee: "Error",
			wantMessage:  "Failed to validate ticket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(validatorFunc(func(context.Context, string, string, string) (*models.ValidationResponse, error) {
				return tt.resp, tt.err
			}), Options{}, nil)

			res, err := m.Submit(context.Background(), "  CODE-1 ", "org-token")
			require.NoError(t, err)
			assert.Equal(t, "CODE-1", res.Code)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, State(tt.wantStatus), m.State())
			if tt.wantAttendee != "" {
				assert.Equal(t, tt.wantAttendee, res.AttendeeName)
			}
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}

			current, ok := m.Current()
			require.True(t, ok)
			assert.Equal(t, res, current)
		})
	}
}

func TestMachine_EmptyCode(t *testing.T) {
	backend := newFakeBackend()
	m := NewMachine(backend, Options{}, nil)

	_, err := m.Submit(context.Background(), "   ", "org-token")
	assert.ErrorIs(t, err, models.ErrEmptyCode)
	assert.Equal(t, int32(0), backend.calls.Load())
	assert.Equal(t, StateIdle, m.State())
}

func TestMachine_ResetClearsCurrent(t *testing.T) {
	m := NewMachine(newFakeBackend(), Options{}, nil)

	_, ok := m.Current()
	assert.False(t, ok)

	_, err := m.Submit(context.Background(), "nope", "org-token")
	require.NoError(t, err)
	assert.Equal(t, StateError, m.State())

	m.Reset()
	_, ok = m.Current()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, m.Failures(), "reset keeps history")
}

func TestMachine_RecentCappedCountersNot(t *testing.T) {
	var n atomic.Int32
	m := NewMachine(validatorFunc(func(context.Context, string, string, string) (*models.ValidationResponse, error) {
		if n.Add(1)%3 == 0 {
			return &models.ValidationResponse{Message: "Ticket already used"}, nil
		}
		return &models.ValidationResponse{Valid: true}, nil
	}), Options{}, nil)

	for i := 1; i <= 15; i++ {
		_, err := m.Submit(context.Background(), fmt.Sprintf("T-%d", i), "org-token")
		require.NoError(t, err)
		m.Reset()
	}

	recent := m.Recent()
	require.Len(t, recent, RecentLimit)
	assert.Equal(t, "T-15", recent[0].Code)
	assert.Equal(t, "T-6", recent[RecentLimit-1].Code)

	assert.Len(t, m.History(), 15)
	assert.Equal(t, 10, m.CheckedIn())
	assert.Equal(t, 5, m.Duplicates())

	stats := m.Stats()
	assert.Equal(t, Stats{State: StateIdle, CheckedIn: 10, Duplicates: 5, Total: 15}, stats)
}

func TestMachine_LogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMachine(newFakeBackend(), Options{}, zap.New(core))

	_, err := m.Submit(context.Background(), "T-2", "org-token")
	require.NoError(t, err)

	entries := logs.FilterMessage("ticket checked in").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "T-2", entries[0].ContextMap()["code"])
}

func TestMachine_ScannedAt(t *testing.T) {
	at := time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC)
	m := NewMachine(newFakeBackend(), Options{}, nil)
	m.now = func() time.Time { return at }

	res, err := m.Submit(context.Background(), "T-1", "org-token")
	require.NoError(t, err)
	assert.Equal(t, at, res.ScannedAt)
}
