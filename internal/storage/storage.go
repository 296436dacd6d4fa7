// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the minimal key-value persistence boundary the engine depends on.
// Implementations must be safe for concurrent use. The engine never assumes
// anything about the backing medium.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
