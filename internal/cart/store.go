// Package cart holds the buyer's selected purchasable lines and persists them
// to durable local storage on every change.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventure-checkout/internal/models"
	"eventure-checkout/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultKey is the storage key the cart is saved under
const DefaultKey = "eventure-cart"

const persistTimeout = 5 * time.Second

// Store is the cart. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	storage storage.Store
	key     string
	lines   []models.CartLine
	open    bool
	logger  *zap.Logger
}

// Open loads the cart saved under key. A missing, unreadable or malformed
// value yields an empty cart; the problem is logged, never returned.
func Open(ctx context.Context, st storage.Store, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		storage: st,
		key:     key,
		logger:  logger.With(zap.String("cart_key", key)),
	}

	raw, err := st.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s
	case err != nil:
		s.logger.Warn("failed to read saved cart, starting empty", zap.Error(err))
		return s
	}

	lines, err := decodeLines(raw)
	if err != nil {
		s.logger.Warn("discarding malformed saved cart", zap.Error(err))
		return s
	}
	s.lines = lines
	return s
}

func decodeLines(raw string) ([]models.CartLine, error) {
	var lines []models.CartLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	for i, line := range lines {
		if err := line.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
	}
	return lines, nil
}

// Add merges quantity units of line into the cart. An existing line with the
// same key has its quantity increased and its display fields replaced by the
// incoming ones, so a changed catalog price wins. Adding opens the cart.
func (s *Store) Add(line models.CartLine, quantity int) {
	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(line.Key); i >= 0 {
		merged := line
		merged.Quantity = s.lines[i].Quantity + quantity
		s.lines[i] = merged
	} else {
		line.Quantity = quantity
		s.lines = append(s.lines, line)
	}
	s.open = true

	s.logger.Debug("cart line added", zap.Stringer("line", line.Key), zap.Int("quantity", quantity))
	s.persist()
}

// Remove deletes the line with the given key
func (s *Store) Remove(key models.LineKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
}

func (s *Store) remove(key models.LineKey) {
	i := s.indexOf(key)
	if i < 0 {
		return
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.persist()
}

// SetQuantity overwrites a line's quantity. n < 1 removes the line.
func (s *Store) SetQuantity(key models.LineKey, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		s.remove(key)
		return
	}
	i := s.indexOf(key)
	if i < 0 {
		return
	}
	s.lines[i].Quantity = n
	s.persist()
}

// Clear empties the cart
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	s.persist()
}

// Deduct takes the quantities of lines off the matching cart lines, removing
// any that reach zero. Lines added or raised since the snapshot was taken
// keep the difference.
func (s *Store) Deduct(lines []models.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, line := range lines {
		i := s.indexOf(line.Key)
		if i < 0 {
			continue
		}
		changed = true
		if s.lines[i].Quantity <= line.Quantity {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			continue
		}
		s.lines[i].Quantity -= line.Quantity
	}
	if changed {
		s.persist()
	}
}

// SetOpen shows or hides the cart presentation
func (s *Store) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
}

// IsOpen reports whether the cart presentation is showing
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Lines returns a copy of the cart lines in insertion order
func (s *Store) Lines() []models.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line returns the line with the given key
func (s *Store) Line(key models.LineKey) (models.CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(key); i >= 0 {
		return s.lines[i], true
	}
	return models.CartLine{}, false
}

// Len returns the number of distinct lines
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// TotalItems returns the sum of line quantities
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, line := range s.lines {
		total += line.Quantity
	}
	return total
}

// TotalPrice returns the sum of quantity × unit price
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (s *Store) indexOf(key models.LineKey) int {
	for i := range s.lines {
		if s.lines[i].Key == key {
			return i
		}
	}
	return -1
}

// persist writes the cart to storage. Callers hold s.mu. Write failures are
// logged; a mutation never fails because storage is unavailable.
func (s *Store) persist() {
	lines := s.lines
	if lines == nil {
		lines = []models.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		s.logger.Error("failed to encode cart", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.storage.Set(ctx, s.key, string(data)); err != nil {
		s.logger.Error("failed to save cart", zap.Error(err))
	}
}
