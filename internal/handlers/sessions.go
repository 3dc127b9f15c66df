package handlers

import (
	"context"
	"sync"
	"time"

	"eventure-checkout/internal/cart"
	"eventure-checkout/internal/checkout"
	"eventure-checkout/internal/inventory"
	"eventure-checkout/internal/storage"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"
)

const (
	DefaultSessionIdleTTL = 30 * time.Minute
	DefaultMaxSessions    = 10000
)

// Session is everything one buyer's browser owns: a cart, its checkout
// pipeline and an in-progress ticket selection per event.
type Session struct {
	Cart     *cart.Store
	Checkout *checkout.Pipeline

	mu         sync.Mutex
	selections map[string]*inventory.Selection

	lastSeen time.Time // guarded by Registry.mu
}

// WithSelection runs fn on the session's selection for eventID, loading the
// catalog on first use. Calls are serialized per session.
func (s *Session) WithSelection(ctx context.Context, source inventory.EventSource, eventID string, fn func(*inventory.Selection) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, ok := s.selections[eventID]
	if !ok {
		loaded, err := inventory.Load(ctx, source, eventID)
		if err != nil {
			return err
		}
		sel = loaded
		s.selections[eventID] = sel
	}
	return fn(sel)
}

// DropSelection forgets the cached selection so the next use reloads the
// catalog
func (s *Session) DropSelection(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selections, eventID)
}

// RegistryOptions bound how many sessions stay in memory and for how long
type RegistryOptions struct {
	// KeyPrefix namespaces cart keys in storage
	KeyPrefix string
	// IdleTTL drops sessions not used for this long. Zero means
	// DefaultSessionIdleTTL; negative disables expiry.
	IdleTTL time.Duration
	// MaxSessions caps the sessions held at once. The least recently used
	// one is dropped to make room.
	MaxSessions int
	Checkout    checkout.Options
}

// Registry hands out sessions by cart id. Dropping a session only frees
// memory: its cart is already in storage and is reopened on the next visit.
// Sessions with a checkout running are skipped while any other can go.
type Registry struct {
	mu          sync.Mutex
	sessions    *simplelru.LRU
	storage     storage.Store
	keyPrefix   string
	idleTTL     time.Duration
	maxSessions int
	registrar   checkout.Registrar
	opts        checkout.Options
	logger      *zap.Logger
	now         func() time.Time
}

// NewRegistry creates a new session registry. Carts are persisted to st
// under "<keyPrefix>:<cart id>".
func NewRegistry(st storage.Store, registrar checkout.Registrar, opts RegistryOptions, logger *zap.Logger) *Registry {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = cart.DefaultKey
	}
	if opts.IdleTTL == 0 {
		opts.IdleTTL = DefaultSessionIdleTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		storage:     st,
		keyPrefix:   opts.KeyPrefix,
		idleTTL:     opts.IdleTTL,
		maxSessions: opts.MaxSessions,
		registrar:   registrar,
		opts:        opts.Checkout,
		logger:      logger,
		now:         time.Now,
	}
	// The size is positive, which is NewLRU's only failure.
	r.sessions, _ = simplelru.NewLRU(opts.MaxSessions, func(key, _ interface{}) {
		r.logger.Debug("session dropped", zap.String("cart_id", key.(string)))
	})
	return r
}

// Get returns the session for cartID, restoring its cart from storage the
// first time the id is seen or after its session was dropped
func (r *Registry) Get(ctx context.Context, cartID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expire(now)

	if v, ok := r.sessions.Get(cartID); ok {
		s := v.(*Session)
		s.lastSeen = now
		return s
	}

	r.makeRoom()

	logger := r.logger.With(zap.String("cart_id", cartID))
	c := cart.Open(ctx, r.storage, r.keyPrefix+":"+cartID, logger)
	s := &Session{
		Cart:       c,
		Checkout:   checkout.NewPipeline(c, r.registrar, r.opts, logger),
		selections: make(map[string]*inventory.Selection),
		lastSeen:   now,
	}
	r.sessions.Add(cartID, s)
	return s
}

// Len returns how many sessions are held in memory
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// expire drops idle sessions. Keys come back least recently used first, and
// every use refreshes lastSeen, so the scan stops at the first live session.
func (r *Registry) expire(now time.Time) {
	if r.idleTTL < 0 {
		return
	}
	for _, key := range r.sessions.Keys() {
		v, ok := r.sessions.Peek(key)
		if !ok {
			continue
		}
		s := v.(*Session)
		if now.Sub(s.lastSeen) < r.idleTTL {
			return
		}
		if s.Checkout.InProgress() {
			continue
		}
		r.sessions.Remove(key)
	}
}

// makeRoom drops the least recently used session without a checkout running
// when the registry is full. If every session is busy the LRU drops the
// oldest on Add.
func (r *Registry) makeRoom() {
	if r.sessions.Len() < r.maxSessions {
		return
	}
	for _, key := range r.sessions.Keys() {
		if v, ok := r.sessions.Peek(key); ok && !v.(*Session).Checkout.InProgress() {
			r.sessions.Remove(key)
			return
		}
	}
}
