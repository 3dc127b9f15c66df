// Package checkout turns the cart into confirmed backend registrations.
//
// A submission runs in two phases. The reserve phase creates one registration
// per event-bound cart line, strictly in cart order, and stops at the first
// failure. After a settlement delay the confirm phase settles every reserved
// registration concurrently. The cart is cleared only when both phases
// succeed.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSettlementDelay is the pause between the reserve and confirm phases
const DefaultSettlementDelay = 2 * time.Second

// Registrar is the backend surface the pipeline drives
type Registrar interface {
	CreateRegistration(ctx context.Context, req models.RegistrationRequest, bearer string) (*models.Registration, error)
	ConfirmPayment(ctx context.Context, registrationID, bearer string) error
	CancelRegistration(ctx context.Context, registrationID, bearer string) error
}

// Cart is the part of the cart store checkout reads and settles
type Cart interface {
	Lines() []models.CartLine
	Deduct(lines []models.CartLine)
}

// Options tune a pipeline
type Options struct {
	SettlementDelay time.Duration
	// ReleaseOnFailure cancels registrations reserved earlier in a
	// submission whose reserve phase aborted
	ReleaseOnFailure bool
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		SettlementDelay:  DefaultSettlementDelay,
		ReleaseOnFailure: true,
	}
}

// Request is one checkout submission. Identity is nil for guests, who must
// supply Guest name and email.
type Request struct {
	PaymentMethod models.PaymentMethod
	Identity      *auth.Identity
	Guest         models.GuestContact
}

// ReservationError reports the cart line whose reservation aborted checkout
type ReservationError struct {
	Line models.CartLine
	Err  error
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("failed to reserve %s: %v", e.Line.Name, e.Err)
}

func (e *ReservationError) Unwrap() error {
	return e.Err
}

// ConfirmationError reports a failed payment confirmation
type ConfirmationError struct {
	RegistrationID string
	Err            error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("order failed: confirming registration %s: %v", e.RegistrationID, e.Err)
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}

// Pipeline submits one cart. A Pipeline runs at most one submission at a time.
type Pipeline struct {
	cart      Cart
	registrar Registrar
	opts      Options
	logger    *zap.Logger

	running  sync.Mutex
	inFlight atomic.Bool
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a new checkout pipeline for c
func NewPipeline(c Cart, registrar Registrar, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cart:      c,
		registrar: registrar,
		opts:      opts,
		logger:    logger.Named("checkout"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// InProgress reports whether a submission is running
func (p *Pipeline) InProgress() bool {
	return p.inFlight.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Submit validates the request, then reserves and confirms every event-bound
// line of a snapshot of the cart. On success exactly the submitted lines are
// taken off the cart; anything added meanwhile stays. On any failure the cart
// is left untouched.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*models.OrderConfirmation, error) {
	if !p.running.TryLock() {
		return nil, models.ErrCheckoutInProgress
	}
	defer p.running.Unlock()
	p.inFlight.Store(true)
	defer p.inFlight.Store(false)

	lines := p.cart.Lines()
	if len(lines) == 0 {
		return nil, models.ErrEmptyCart
	}
	if !req.PaymentMethod.Valid() {
		return nil, models.ErrPaymentMethodRequired
	}

	var guest *models.GuestContact
	if req.Identity == nil {
		if !req.Guest.Complete() {
			return nil, models.ErrGuestDetailsRequired
		}
		guest = &req.Guest
	}

	bearer := ""
	if req.Identity != nil {
		bearer = req.Identity.Token
	}

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	logger := p.logger.With(
		zap.String("payment_method", string(req.PaymentMethod)),
		zap.Bool("guest", guest != nil),
		zap.Int("lines", len(lines)),
	)
	logger.Info("checkout submitted", zap.String("total", total.StringFixed(2)))

	ids, err := p.reserve(ctx, logger, lines, req.PaymentMethod, guest, bearer)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if err := p.sleep(ctx, p.opts.SettlementDelay); err != nil {
			p.release(ctx, logger, ids, bearer)
			return nil, fmt.Errorf("checkout interrupted before payment confirmation: %w", err)
		}
		if err := p.confirm(ctx, ids, bearer); err != nil {
			logger.Error("payment confirmation failed", zap.Strings("registration_ids", ids), zap.Error(err))
			return nil, err
		}
	}

	p.cart.Deduct(lines)

	confirmation := &models.OrderConfirmation{
		RegistrationIDs: ids,
		TotalAmount:     total,
		PaymentMethod:   req.PaymentMethod,
		PlacedAt:        p.now(),
	}
	if req.Identity != nil {
		confirmation.BuyerName = req.Identity.Name
		confirmation.BuyerEmail = req.Identity.Email
	} else {
		confirmation.BuyerName = strings.TrimSpace(guest.Name)
		confirmation.BuyerEmail = strings.TrimSpace(guest.Email)
	}

	logger.Info("checkout completed", zap.Strings("registration_ids", ids))
	return confirmation, nil
}

func (p *Pipeline) reserve(ctx context.Context, logger *zap.Logger, lines []models.CartLine, method models.PaymentMethod, guest *models.GuestContact, bearer string) ([]string, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !line.IsEventBound() {
			continue
		}

		reg, err := p.registrar.CreateRegistration(ctx, models.NewRegistrationRequest(line, method, guest), bearer)
		if err == nil && reg.ID == "" {
			err = models.ErrMissingRegistrationID
		}
		if err != nil {
			logger.Warn("reservation failed",
				zap.String("line", line.Key.String()),
				zap.Int("reserved_before_failure", len(ids)),
				zap.Error(err),
			)
			p.release(ctx, logger, ids, bearer)
			return nil, &ReservationError{Line: line, Err: err}
		}

		logger.Debug("registration reserved",
			zap.String("line", line.Key.String()),
			zap.String("registration_id", reg.ID),
			zap.String("status", string(reg.Status)),
		)
		ids = append(ids, reg.ID)
	}
	return ids, nil
}

// release cancels ids on a best-effort basis. It runs even when ctx is
// already cancelled.
func (p *Pipeline) release(ctx context.Context, logger *zap.Logger, ids []string, bearer string) {
	if !p.opts.ReleaseOnFailure || len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := p.registrar.CancelRegistration(ctx, id, bearer); err != nil {
			logger.Warn("failed to release registration", zap.String("registration_id", id), zap.Error(err))
		}
	}
}

func (p *Pipeline) confirm(ctx context.Context, ids []string, bearer string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := p.registrar.ConfirmPayment(gctx, id, bearer); err != nil {
				return &ConfirmationError{RegistrationID: id, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}
