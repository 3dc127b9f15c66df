// Package storage provides the durable key/value storage the cart persists to.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under a key
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable string key/value store
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
